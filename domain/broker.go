package domain

// BrokerState follows Uninitialized -> Connecting -> Ready -> (Degraded -> Connecting)*.
type BrokerState int

const (
	BrokerUninitialized BrokerState = iota
	BrokerConnecting
	BrokerReady
	BrokerDegraded
)

func (s BrokerState) String() string {
	switch s {
	case BrokerUninitialized:
		return "uninitialized"
	case BrokerConnecting:
		return "connecting"
	case BrokerReady:
		return "ready"
	case BrokerDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

const (
	DefaultUploadQueue   = "upload"
	DefaultDownloadQueue = "download"
)
