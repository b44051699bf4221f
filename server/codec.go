package server

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborCodec carries the compile service messages as CBOR. Messages are
// plain Go structs, so the protobuf codecs connect installs by default
// cannot serve them.
type cborCodec struct {
	enc cbor.EncMode
}

var defaultCodec = newCBORCodec()

func newCBORCodec() *cborCodec {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	return &cborCodec{enc: enc}
}

func (c *cborCodec) Name() string { return "cbor" }

func (c *cborCodec) Marshal(msg any) ([]byte, error) {
	return c.enc.Marshal(msg)
}

func (c *cborCodec) Unmarshal(data []byte, msg any) error {
	return cbor.Unmarshal(data, msg)
}
