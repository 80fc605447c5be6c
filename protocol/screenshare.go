package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"collab-lab/domain"
)

// Screen-share handshake. A connecting client sends its role and uid, the
// relay answers with a 4-byte status word. After StatusOK a producer streams
// length-prefixed image blobs; a consumer receives the same stream.
const (
	RoleProducer uint32 = 1
	RoleConsumer uint32 = 2
)

var (
	StatusOK   = [4]byte{'O', 'K', 'A', 'Y'}
	StatusBusy = [4]byte{'B', 'U', 'S', 'Y'}
)

// ShareHello is the fixed 8-byte preamble of a screen-share connection.
type ShareHello struct {
	Role uint32
	UID  domain.UID
}

func ReadShareHello(r io.Reader) (ShareHello, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return ShareHello{}, fmt.Errorf("reading share hello: %w", err)
	}

	hello := ShareHello{
		Role: binary.BigEndian.Uint32(buf[0:4]),
		UID:  domain.UID(binary.BigEndian.Uint32(buf[4:8])),
	}
	if hello.Role != RoleProducer && hello.Role != RoleConsumer {
		return ShareHello{}, fmt.Errorf("unknown share role %d", hello.Role)
	}
	return hello, nil
}

func WriteShareHello(w io.Writer, hello ShareHello) error {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:4], hello.Role)
	binary.BigEndian.PutUint32(buf[4:8], uint32(hello.UID))
	_, err := w.Write(buf[:])
	return err
}

func WriteShareStatus(w io.Writer, status [4]byte) error {
	_, err := w.Write(status[:])
	return err
}

func ReadShareStatus(r io.Reader) ([4]byte, error) {
	var status [4]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return status, fmt.Errorf("reading share status: %w", err)
	}
	return status, nil
}
