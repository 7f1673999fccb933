// Package p2p implements the gossip protocol between nodes: the framed
// wire messages, the TCP server and its dispatch, chain catch-up, and
// DNS-based peer discovery.
package p2p

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// ProtocolVersion identifies this wire protocol generation.
const ProtocolVersion uint32 = 1

// maxFrameSize bounds a single message frame read off the wire.
const maxFrameSize = 1 << 26

// MsgType tags the variant carried by a frame.
type MsgType byte

// The wire message variants.
const (
	MsgVersion MsgType = iota + 1
	MsgGetBlocks
	MsgInv
	MsgGetData
	MsgBlock
	MsgTx
)

// InvKind selects what an inventory or data request refers to.
type InvKind byte

// The inventory kinds.
const (
	InvBlock InvKind = 1
	InvTx    InvKind = 2
)

// Message is one of the wire protocol variants. Every message carries the
// sender's reachable address so replies need no session.
type Message interface {
	Type() MsgType
	From() string
}

// Version introduces a node and its best height.
type Version struct {
	AddrFrom   string
	Protocol   uint32
	BestHeight uint32
}

// GetBlocks asks the receiver for the hashes of all its blocks.
type GetBlocks struct {
	AddrFrom string
}

// Inv advertises inventory: block hashes or transaction ids.
type Inv struct {
	AddrFrom string
	Kind     InvKind
	Items    []chainhash.Hash
}

// GetData requests a single inventory item.
type GetData struct {
	AddrFrom string
	Kind     InvKind
	ID       chainhash.Hash
}

// BlockMsg delivers a block.
type BlockMsg struct {
	AddrFrom string
	Block    database.Block
}

// TxMsg delivers a transaction.
type TxMsg struct {
	AddrFrom string
	Tx       database.Tx
}

// Type implementations for the variants.
func (Version) Type() MsgType   { return MsgVersion }
func (GetBlocks) Type() MsgType { return MsgGetBlocks }
func (Inv) Type() MsgType       { return MsgInv }
func (GetData) Type() MsgType   { return MsgGetData }
func (BlockMsg) Type() MsgType  { return MsgBlock }
func (TxMsg) Type() MsgType     { return MsgTx }

// From implementations for the variants.
func (m Version) From() string   { return m.AddrFrom }
func (m GetBlocks) From() string { return m.AddrFrom }
func (m Inv) From() string       { return m.AddrFrom }
func (m GetData) From() string   { return m.AddrFrom }
func (m BlockMsg) From() string  { return m.AddrFrom }
func (m TxMsg) From() string     { return m.AddrFrom }

// =============================================================================

// WriteMessage frames and writes one message: a big-endian u32 payload
// length followed by the tagged payload.
func WriteMessage(w io.Writer, m Message) error {
	payload, err := encodePayload(m)
	if err != nil {
		return err
	}

	var frame bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	frame.Write(lenBuf[:])
	frame.Write(payload)

	_, err = w.Write(frame.Bytes())
	return err
}

// ReadMessage reads one framed message.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	if size == 0 || size > maxFrameSize {
		return nil, fmt.Errorf("frame size %d out of range", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}

	return decodePayload(payload)
}

// =============================================================================

func encodePayload(m Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Type()))
	writeString(&buf, m.From())

	switch msg := m.(type) {
	case Version:
		writeUint32(&buf, msg.Protocol)
		writeUint32(&buf, msg.BestHeight)

	case GetBlocks:

	case Inv:
		buf.WriteByte(byte(msg.Kind))
		writeUint32(&buf, uint32(len(msg.Items)))
		for _, item := range msg.Items {
			buf.Write(item[:])
		}

	case GetData:
		buf.WriteByte(byte(msg.Kind))
		buf.Write(msg.ID[:])

	case BlockMsg:
		writeBytes(&buf, msg.Block.Marshal())

	case TxMsg:
		writeBytes(&buf, msg.Tx.Marshal())

	default:
		return nil, fmt.Errorf("unknown message type %T", m)
	}

	return buf.Bytes(), nil
}

func decodePayload(payload []byte) (Message, error) {
	r := bytes.NewReader(payload)

	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	addrFrom, err := readString(r)
	if err != nil {
		return nil, err
	}

	switch MsgType(tag) {
	case MsgVersion:
		m := Version{AddrFrom: addrFrom}
		if m.Protocol, err = readUint32(r); err != nil {
			return nil, err
		}
		if m.BestHeight, err = readUint32(r); err != nil {
			return nil, err
		}
		return m, trailing(r)

	case MsgGetBlocks:
		return GetBlocks{AddrFrom: addrFrom}, trailing(r)

	case MsgInv:
		m := Inv{AddrFrom: addrFrom}
		if m.Kind, err = readKind(r); err != nil {
			return nil, err
		}
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		if count > maxFrameSize/chainhash.HashSize {
			return nil, fmt.Errorf("inventory count %d too large", count)
		}
		if count > 0 {
			m.Items = make([]chainhash.Hash, count)
			for i := range m.Items {
				if _, err := io.ReadFull(r, m.Items[i][:]); err != nil {
					return nil, err
				}
			}
		}
		return m, trailing(r)

	case MsgGetData:
		m := GetData{AddrFrom: addrFrom}
		if m.Kind, err = readKind(r); err != nil {
			return nil, err
		}
		if _, err := io.ReadFull(r, m.ID[:]); err != nil {
			return nil, err
		}
		return m, trailing(r)

	case MsgBlock:
		raw, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		block, err := database.UnmarshalBlock(raw)
		if err != nil {
			return nil, err
		}
		return BlockMsg{AddrFrom: addrFrom, Block: block}, trailing(r)

	case MsgTx:
		raw, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		tx, err := database.UnmarshalTx(raw)
		if err != nil {
			return nil, err
		}
		return TxMsg{AddrFrom: addrFrom, Tx: tx}, trailing(r)
	}

	return nil, fmt.Errorf("unknown message tag %d", tag)
}

func readKind(r *bytes.Reader) (InvKind, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	kind := InvKind(b)
	if kind != InvBlock && kind != InvTx {
		return 0, fmt.Errorf("unknown inventory kind %d", b)
	}
	return kind, nil
}

func trailing(r *bytes.Reader) error {
	if r.Len() != 0 {
		return fmt.Errorf("%d trailing bytes in message", r.Len())
	}
	return nil
}

// =============================================================================

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, fmt.Errorf("field length %d exceeds remaining payload", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readString(r *bytes.Reader) (string, error) {
	data, err := readBytes(r)
	return string(data), err
}
