package wal

import (
	"fmt"

	"github.com/marlowdb/walcore/bytecodec"
	"github.com/marlowdb/walcore/storage"
	"github.com/marlowdb/walcore/walerr"
)

// logMagic is the fixed log file header magic ("\0cen-wal", §6).
const logMagic uint64 = 0x0063656E2D77616C

// headerSize is the fixed log header length in bytes (§6).
const headerSize int64 = 32

// logHeader is the first 32 bytes of a log file.
type logHeader struct {
	magic                     uint64
	lastCheckpointTimestampMs int64
	indexedTransactionCount   uint64
	firstTransactionLogOffset uint64
}

func readLogHeader(s storage.Storage) (logHeader, error) {
	acc, err := storage.NewAccess(s, 0, headerSize, false)
	if err != nil {
		return logHeader{}, err
	}
	defer acc.Close()

	buf, err := acc.ReadBytes(int(headerSize))
	if err != nil {
		return logHeader{}, err
	}
	h := logHeader{
		magic:                     bytecodec.GetU64(buf[0:8]),
		lastCheckpointTimestampMs: bytecodec.GetI64(buf[8:16]),
		indexedTransactionCount:   bytecodec.GetU64(buf[16:24]),
		firstTransactionLogOffset: bytecodec.GetU64(buf[24:32]),
	}
	if h.magic != logMagic {
		return logHeader{}, fmt.Errorf("wal: log header magic mismatch: %w", walerr.ErrCorruptLog)
	}
	return h, nil
}

func writeLogHeader(s storage.Storage, h logHeader) error {
	acc, err := storage.NewAccess(s, 0, headerSize, true)
	if err != nil {
		return err
	}
	defer acc.Close()

	buf := make([]byte, headerSize)
	bytecodec.PutU64(buf[0:8], logMagic)
	bytecodec.PutI64(buf[8:16], h.lastCheckpointTimestampMs)
	bytecodec.PutU64(buf[16:24], h.indexedTransactionCount)
	bytecodec.PutU64(buf[24:32], h.firstTransactionLogOffset)
	return acc.WriteBytes(buf, 0, len(buf))
}

// EditRecord is the on-log representation of one Edit (§6).
type EditRecord struct {
	Offset uint32
	Length uint32
	Bytes  []byte
}

func (r EditRecord) encodedLen() int64 { return 4 + 4 + int64(len(r.Bytes)) }

// PageRecord is the on-log representation of one touched page within a
// transaction record (§6): LogPageData in spec terms.
type PageRecord struct {
	Location int64
	Edits    []EditRecord
}

func (r PageRecord) encodedLen() int64 {
	n := int64(8 + 4)
	for _, e := range r.Edits {
		n += e.encodedLen()
	}
	return n
}

// pageEdits reconstructs a *PageEdits view over r.Edits, which are already
// sorted and gap-separated as written by WalPage.Edits().
func (r PageRecord) pageEdits() *PageEdits {
	pe := &PageEdits{edits: make([]Edit, len(r.Edits))}
	for i, e := range r.Edits {
		pe.edits[i] = Edit{Offset: e.Offset, Length: e.Length, Bytes: e.Bytes}
	}
	return pe
}

// TransactionRecord is the on-log representation of one committed
// transaction's edits (§6): LogTransactionData in spec terms.
type TransactionRecord struct {
	SequenceNumber uint64
	TimestampMs    int64
	Pages          []PageRecord

	logLocation int64
}

// LogLocation reports the byte offset at which this record was (or will
// be) written within the log file.
func (t *TransactionRecord) LogLocation() int64 { return t.logLocation }

func (t *TransactionRecord) encodedLen() int64 {
	n := int64(8 + 8 + 4)
	for _, p := range t.Pages {
		n += p.encodedLen()
	}
	return n
}

// intersects reports whether t and other share a page location whose
// edits overlap (§3 PageEdits.intersects, lifted to the transaction level).
func (t *TransactionRecord) intersects(other *TransactionRecord) bool {
	for _, p := range t.Pages {
		for _, q := range other.Pages {
			if p.Location != q.Location {
				continue
			}
			if p.pageEdits().Intersects(q.pageEdits()) {
				return true
			}
		}
	}
	return false
}

// encode serializes t into a single contiguous big-endian buffer matching
// §6's TransactionRecord layout.
func (t *TransactionRecord) encode() []byte {
	buf := make([]byte, t.encodedLen())
	off := 0
	bytecodec.PutU64(buf[off:], t.SequenceNumber)
	off += 8
	bytecodec.PutI64(buf[off:], t.TimestampMs)
	off += 8
	bytecodec.PutU32(buf[off:], uint32(len(t.Pages)))
	off += 4
	for _, p := range t.Pages {
		bytecodec.PutU64(buf[off:], uint64(p.Location))
		off += 8
		bytecodec.PutU32(buf[off:], uint32(len(p.Edits)))
		off += 4
		for _, e := range p.Edits {
			bytecodec.PutU32(buf[off:], e.Offset)
			off += 4
			bytecodec.PutU32(buf[off:], e.Length)
			off += 4
			copy(buf[off:], e.Bytes)
			off += len(e.Bytes)
		}
	}
	return buf
}

// writeTransactionRecordAt serializes and writes t at logLocation within log, via the
// shared Access cursor stack.
func writeTransactionRecordAt(log storage.Storage, logLocation int64, t *TransactionRecord) error {
	t.logLocation = logLocation
	buf := t.encode()
	acc, err := storage.NewAccess(log, logLocation, int64(len(buf)), true)
	if err != nil {
		return err
	}
	defer acc.Close()
	return acc.WriteBytes(buf, 0, len(buf))
}

// decodeTransactionRecordAt attempts to decode one TransactionRecord
// starting at logLocation. ok is false if the record is a partial tail —
// decoding would read past logSize, or a declared count looks incoherent —
// in which case the caller must truncate at logLocation (§4.9.10, §8
// scenario 4).
func decodeTransactionRecordAt(log storage.Storage, logLocation, logSize int64) (rec *TransactionRecord, ok bool, err error) {
	const fixedPrefix = 8 + 8 + 4
	if logLocation+fixedPrefix > logSize {
		return nil, false, nil
	}
	acc, aerr := storage.NewAccess(log, logLocation, fixedPrefix, false)
	if aerr != nil {
		return nil, false, aerr
	}
	prefix, rerr := acc.ReadBytes(fixedPrefix)
	_ = acc.Close()
	if rerr != nil {
		return nil, false, rerr
	}

	seq := bytecodec.GetU64(prefix[0:8])
	ts := bytecodec.GetI64(prefix[8:16])
	pageCount := bytecodec.GetU32(prefix[16:20])
	// A single transaction touching more pages than fit in any plausible
	// data set signals a corrupt length field read from a partial record.
	const maxPlausiblePages = 1 << 24
	if pageCount > maxPlausiblePages {
		return nil, false, nil
	}

	t := &TransactionRecord{SequenceNumber: seq, TimestampMs: ts, logLocation: logLocation, Pages: make([]PageRecord, 0, pageCount)}
	cursor := logLocation + fixedPrefix

	for i := uint32(0); i < pageCount; i++ {
		const pagePrefix = 8 + 4
		if cursor+pagePrefix > logSize {
			return nil, false, nil
		}
		pacc, aerr := storage.NewAccess(log, cursor, pagePrefix, false)
		if aerr != nil {
			return nil, false, aerr
		}
		pbuf, rerr := pacc.ReadBytes(pagePrefix)
		_ = pacc.Close()
		if rerr != nil {
			return nil, false, rerr
		}
		location := int64(bytecodec.GetU64(pbuf[0:8]))
		editCount := bytecodec.GetU32(pbuf[8:12])
		const maxPlausibleEdits = 1 << 20
		if editCount > maxPlausibleEdits {
			return nil, false, nil
		}
		cursor += pagePrefix

		edits := make([]EditRecord, 0, editCount)
		for j := uint32(0); j < editCount; j++ {
			const editPrefix = 4 + 4
			if cursor+editPrefix > logSize {
				return nil, false, nil
			}
			eacc, aerr := storage.NewAccess(log, cursor, editPrefix, false)
			if aerr != nil {
				return nil, false, aerr
			}
			ebuf, rerr := eacc.ReadBytes(editPrefix)
			_ = eacc.Close()
			if rerr != nil {
				return nil, false, rerr
			}
			offset := bytecodec.GetU32(ebuf[0:4])
			length := bytecodec.GetU32(ebuf[4:8])
			cursor += editPrefix
			if length > storage.PageSize || cursor+int64(length) > logSize {
				return nil, false, nil
			}
			bacc, aerr := storage.NewAccess(log, cursor, int64(length), false)
			if aerr != nil {
				return nil, false, aerr
			}
			bytes, rerr := bacc.ReadBytes(int(length))
			_ = bacc.Close()
			if rerr != nil {
				return nil, false, rerr
			}
			cursor += int64(length)
			edits = append(edits, EditRecord{Offset: offset, Length: length, Bytes: bytes})
		}
		t.Pages = append(t.Pages, PageRecord{Location: location, Edits: edits})
	}
	return t, true, nil
}

// applyRecord writes every edit in rec to data's backing bytes at
// location+offset, used by both checkpoint write-back (§4.9.9) and reload
// replay (§4.9.10).
func applyRecord(data storage.Storage, rec *TransactionRecord) error {
	for _, p := range rec.Pages {
		for _, e := range p.Edits {
			acc, err := storage.NewAccess(data, p.Location+int64(e.Offset), int64(len(e.Bytes)), true)
			if err != nil {
				return err
			}
			werr := acc.WriteBytes(e.Bytes, 0, len(e.Bytes))
			_ = acc.Close()
			if werr != nil {
				return werr
			}
		}
	}
	return nil
}
