package codec

import "fmt"

type unsupportedPayloadError struct {
	pt int
}

func (e *unsupportedPayloadError) Error() string {
	return fmt.Sprintf("codec: unsupported rtp payload type %d", e.pt)
}

func errUnsupportedPayload(pt int) error {
	return &unsupportedPayloadError{pt: pt}
}
