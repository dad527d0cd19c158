package llm

import (
	"bufio"
	"bytes"
	"strings"
)

type sseDecoder struct {
	r *bufio.Reader
}

func newSSEDecoder(r *bufio.Reader) *sseDecoder { return &sseDecoder{r: r} }

// Next returns (event, data, error). Chat completion streams usually leave
// event empty; data lines begin with "data: ".
func (d *sseDecoder) Next() (string, []byte, error) {
	var event string
	var data []byte
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			// a final event without a trailing blank line still counts
			if len(data) > 0 {
				return event, data, nil
			}
			line = bytes.TrimSpace(line)
			if bytes.HasPrefix(line, []byte("data:")) {
				return event, bytes.TrimSpace(line[len("data:"):]), nil
			}
			return "", nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 { // dispatch
			if len(data) == 0 {
				continue
			}
			return event, data, nil
		}
		if bytes.HasPrefix(line, []byte(":")) {
			continue // comment / keepalive
		}
		if bytes.HasPrefix(line, []byte("event:")) {
			event = strings.TrimSpace(string(line[len("event:"):]))
		} else if bytes.HasPrefix(line, []byte("data:")) {
			data = append(data, bytes.TrimSpace(line[len("data:"):])...)
		}
	}
}
