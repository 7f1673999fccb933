package database

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// The binary encoding is deterministic: integers are big-endian, variable
// length fields carry a u32 length prefix, and fixed width hashes are
// written raw. The same bytes go to disk and onto the wire.

// headerSize is the serialized length of a block header.
const headerSize = chainhash.HashSize*2 + 8 + 4 + 8 + 4

// maxFieldLen bounds any single length-prefixed field read off the wire.
const maxFieldLen = 1 << 24

// Marshal serializes the header into its fixed 88 byte layout.
func (h BlockHeader) Marshal() []byte {
	buf := make([]byte, 0, headerSize)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(h.Timestamp))
	buf = binary.BigEndian.AppendUint32(buf, h.Bits)
	buf = binary.BigEndian.AppendUint64(buf, h.Nonce)
	buf = binary.BigEndian.AppendUint32(buf, h.Height)
	return buf
}

// UnmarshalHeader decodes a header from its fixed layout.
func UnmarshalHeader(data []byte) (BlockHeader, error) {
	if len(data) != headerSize {
		return BlockHeader{}, fmt.Errorf("header is %d bytes, expected %d", len(data), headerSize)
	}

	var h BlockHeader
	copy(h.PrevHash[:], data[:32])
	copy(h.MerkleRoot[:], data[32:64])
	h.Timestamp = int64(binary.BigEndian.Uint64(data[64:72]))
	h.Bits = binary.BigEndian.Uint32(data[72:76])
	h.Nonce = binary.BigEndian.Uint64(data[76:84])
	h.Height = binary.BigEndian.Uint32(data[84:88])

	return h, nil
}

// =============================================================================

// Marshal serializes the transaction.
func (tx Tx) Marshal() []byte {
	var buf bytes.Buffer

	buf.Write(tx.ID[:])

	writeUint32(&buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf.Write(in.TxID[:])
		writeUint32(&buf, in.Vout)
		writeBytes(&buf, in.Signature)
		writeBytes(&buf, in.PubKey)
	}

	writeUint32(&buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		writeUint64(&buf, uint64(out.Value))
		buf.Write(out.PubKeyHash[:])
	}

	return buf.Bytes()
}

// UnmarshalTx decodes a transaction, rejecting trailing garbage.
func UnmarshalTx(data []byte) (Tx, error) {
	r := bytes.NewReader(data)

	tx, err := readTx(r)
	if err != nil {
		return Tx{}, err
	}
	if r.Len() != 0 {
		return Tx{}, fmt.Errorf("%d trailing bytes after transaction", r.Len())
	}

	return tx, nil
}

// readTx decodes one transaction from the reader.
func readTx(r *bytes.Reader) (Tx, error) {
	var tx Tx

	if err := readHash(r, &tx.ID); err != nil {
		return Tx{}, err
	}

	count, err := readUint32(r)
	if err != nil {
		return Tx{}, err
	}
	if count > maxFieldLen {
		return Tx{}, fmt.Errorf("input count %d too large", count)
	}
	tx.Inputs = make([]TxIn, count)
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if err := readHash(r, &in.TxID); err != nil {
			return Tx{}, err
		}
		if in.Vout, err = readUint32(r); err != nil {
			return Tx{}, err
		}
		if in.Signature, err = readBytes(r); err != nil {
			return Tx{}, err
		}
		if in.PubKey, err = readBytes(r); err != nil {
			return Tx{}, err
		}
	}

	if count, err = readUint32(r); err != nil {
		return Tx{}, err
	}
	if count > maxFieldLen {
		return Tx{}, fmt.Errorf("output count %d too large", count)
	}
	tx.Outputs = make([]TxOut, count)
	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		value, err := readUint64(r)
		if err != nil {
			return Tx{}, err
		}
		out.Value = currency.Satoshi(value)
		if _, err := io.ReadFull(r, out.PubKeyHash[:]); err != nil {
			return Tx{}, err
		}
	}

	return tx, nil
}

// =============================================================================

// Marshal serializes the block: header, transaction count, transactions.
func (b Block) Marshal() []byte {
	var buf bytes.Buffer

	buf.Write(b.Header.Marshal())
	writeUint32(&buf, uint32(len(b.Txs)))
	for _, tx := range b.Txs {
		writeBytes(&buf, tx.Marshal())
	}

	return buf.Bytes()
}

// UnmarshalBlock decodes a block, rejecting trailing garbage.
func UnmarshalBlock(data []byte) (Block, error) {
	if len(data) < headerSize {
		return Block{}, fmt.Errorf("block shorter than header")
	}

	header, err := UnmarshalHeader(data[:headerSize])
	if err != nil {
		return Block{}, err
	}

	r := bytes.NewReader(data[headerSize:])
	count, err := readUint32(r)
	if err != nil {
		return Block{}, err
	}
	if count > maxFieldLen {
		return Block{}, fmt.Errorf("transaction count %d too large", count)
	}

	b := Block{
		Header: header,
		Txs:    make([]Tx, count),
	}
	for i := range b.Txs {
		raw, err := readBytes(r)
		if err != nil {
			return Block{}, err
		}
		if b.Txs[i], err = UnmarshalTx(raw); err != nil {
			return Block{}, err
		}
	}

	if r.Len() != 0 {
		return Block{}, fmt.Errorf("%d trailing bytes after block", r.Len())
	}

	return b, nil
}

// =============================================================================

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	if n > maxFieldLen {
		return nil, fmt.Errorf("field length %d too large", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func readHash(r *bytes.Reader, hash *chainhash.Hash) error {
	_, err := io.ReadFull(r, hash[:])
	return err
}
