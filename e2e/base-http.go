package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gookit/color"
)

type Envelope struct {
	Data json.RawMessage `json:"data"`
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
}

func (s *BaseSuite) client() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

func (s *BaseSuite) url(path string) string {
	return strings.TrimRight(s.Config.RelayAddr, "/") + path
}

func (s *BaseSuite) logCall(method, path string, code int, elapsed time.Duration) {
	line := fmt.Sprintf("HTTP %s %s [%d] in %v", method, path, code, elapsed)
	if s.Config.Colours {
		if code >= 400 {
			line = color.Yellow.Render(line)
		} else {
			line = color.Cyan.Render(line)
		}
	}
	s.T().Log(line)
}

// Upload posts one multipart file and decodes the envelope.
func (s *BaseSuite) Upload(name string, content []byte) (int, Envelope) {
	s.step(s.T(), "upload "+name)
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", name)
	s.Require().NoError(err)
	_, err = part.Write(content)
	s.Require().NoError(err)
	s.Require().NoError(writer.Close())

	start := time.Now()
	resp, err := s.client().Post(s.url("/files/upload"), writer.FormDataContentType(), body)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.logCall(http.MethodPost, "/files/upload", resp.StatusCode, time.Since(start))

	var env Envelope
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

// Download returns the status, headers and full body of a download.
func (s *BaseSuite) Download(name string) (int, http.Header, []byte) {
	s.step(s.T(), "download "+name)
	start := time.Now()
	resp, err := s.client().Get(s.url("/files/download/" + name))
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.logCall(http.MethodGet, "/files/download/"+name, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp.StatusCode, resp.Header, data
}
