// Package zippartial reads the structural portions of a remote ZIP archive
// through HTTP byte-range requests. Only the end-of-central-directory record,
// the central directory, and individual stored (uncompressed) entries are
// ever fetched; file data for the bulk of the archive never crosses the wire.
package zippartial

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"

	"github.com/mrevell/slotstream/internal/errs"
)

const (
	// eocdTailSize is how many trailing bytes are fetched to find the EOCD
	// record. Covers the 22-byte minimum record plus a sizable ZIP comment.
	eocdTailSize = 3072
	// eocdMinSize is the size of an EOCD record with an empty comment.
	eocdMinSize = 22
	// cdHeaderSize is the fixed portion of a central-directory file header.
	cdHeaderSize = 46

	methodStored = 0
)

var (
	eocdSignature     = []byte{0x50, 0x4b, 0x05, 0x06}
	cdHeaderSignature = []byte{0x50, 0x4b, 0x01, 0x02}
)

// EOCD locates the central directory within the remote object.
type EOCD struct {
	Size   uint64
	Offset uint64
}

// PropertyFileRef names a stored entry's exact byte range inside the package.
type PropertyFileRef struct {
	Name   string `json:"name"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// Index maps entry names to their byte ranges. Only stored entries appear.
type Index map[string]PropertyFileRef

// Source is the byte-range transport the reader runs on.
type Source interface {
	ContentLength(ctx context.Context, url string) (int64, error)
	ReadRange(ctx context.Context, url string, start, size int64) ([]byte, error)
	CopyRange(ctx context.Context, url string, start, size int64, sink io.Writer) error
}

// Reader parses remote ZIP structure over a Source.
type Reader struct {
	src Source
	log *slog.Logger
}

// NewReader creates a partial ZIP reader.
func NewReader(src Source) *Reader {
	return &Reader{
		src: src,
		log: slog.Default().With("component", "zippartial"),
	}
}

// LocateEOCD finds the end-of-central-directory record of the remote archive
// and returns the central directory's location.
func (r *Reader) LocateEOCD(ctx context.Context, url string) (EOCD, error) {
	total, err := r.src.ContentLength(ctx, url)
	if err != nil {
		return EOCD{}, err
	}
	if total < eocdMinSize {
		return EOCD{}, errs.New(errs.KindFormat, "object too small to be a ZIP archive (%d bytes)", total)
	}

	tailSize := int64(eocdTailSize)
	if tailSize > total {
		tailSize = total
	}
	tailStart := total - tailSize
	tail, err := r.src.ReadRange(ctx, url, tailStart, tailSize)
	if err != nil {
		return EOCD{}, err
	}

	eocd, err := findEOCD(tail, total, tailStart)
	if err != nil {
		return EOCD{}, err
	}
	r.log.DebugContext(ctx, "Located EOCD", "cd_offset", eocd.Offset, "cd_size", eocd.Size)
	return eocd, nil
}

// findEOCD scans tail backward for the EOCD signature, starting at the
// position where an empty-comment record would begin, and validates the
// central directory size and offset it names. total is the full object
// length and tailStart the object offset of tail[0].
func findEOCD(tail []byte, total, tailStart int64) (EOCD, error) {
	start := total - eocdMinSize - tailStart
	if last := int64(len(tail) - eocdMinSize); start > last {
		start = last
	}

	for i := start; i >= 0; i-- {
		if !bytes.Equal(tail[i:i+4], eocdSignature) {
			continue
		}
		rec := tail[i:]
		if len(rec) < eocdMinSize {
			continue
		}
		size := uint64(binary.LittleEndian.Uint32(rec[12:16]))
		offset := uint64(binary.LittleEndian.Uint32(rec[16:20]))

		if size < cdHeaderSize || size > 1024 {
			return EOCD{}, errs.New(errs.KindFormat, "central directory size %d out of bounds", size)
		}
		// Guard the subtraction: size may exceed the object on small archives.
		if size > uint64(total) || offset > uint64(total)-size {
			return EOCD{}, errs.New(errs.KindFormat,
				"central directory %d+%d does not fit in %d-byte object", offset, size, total)
		}
		return EOCD{Size: size, Offset: offset}, nil
	}
	return EOCD{}, errs.New(errs.KindFormat, "no end-of-central-directory signature found")
}

// ReadCentralDirectory fetches the central directory named by eocd and
// indexes every stored entry. Compressed entries are skipped; they cannot be
// range-read directly.
func (r *Reader) ReadCentralDirectory(ctx context.Context, url string, eocd EOCD) (Index, error) {
	buf, err := r.src.ReadRange(ctx, url, int64(eocd.Offset), int64(eocd.Size))
	if err != nil {
		return nil, err
	}

	index := make(Index)
	for pos := 0; pos < len(buf); {
		if pos+cdHeaderSize > len(buf) {
			return nil, errs.New(errs.KindFormat, "truncated central directory header at %d", pos)
		}
		rec := buf[pos:]
		if !bytes.Equal(rec[:4], cdHeaderSignature) {
			return nil, errs.New(errs.KindFormat, "bad central directory header signature at %d", pos)
		}

		method := binary.LittleEndian.Uint16(rec[10:12])
		compressedSize := uint64(binary.LittleEndian.Uint32(rec[20:24]))
		nameLen := int(binary.LittleEndian.Uint16(rec[28:30]))
		extraLen := int(binary.LittleEndian.Uint16(rec[30:32]))
		commentLen := int(binary.LittleEndian.Uint16(rec[32:34]))
		localOffset := uint64(binary.LittleEndian.Uint32(rec[42:46]))

		if pos+cdHeaderSize+nameLen > len(buf) {
			return nil, errs.New(errs.KindFormat, "entry name overruns central directory at %d", pos)
		}
		name := string(rec[cdHeaderSize : cdHeaderSize+nameLen])

		if method == methodStored {
			// Entry data begins after the 30-byte local header plus its
			// variable name and extra fields.
			index[name] = PropertyFileRef{
				Name:   name,
				Offset: localOffset + 30 + uint64(nameLen) + uint64(extraLen),
				Size:   compressedSize,
			}
		}

		pos += cdHeaderSize + nameLen + extraLen + commentLen
	}

	r.log.DebugContext(ctx, "Parsed central directory", "stored_entries", len(index))
	return index, nil
}

// Index fetches and indexes the archive in one step.
func (r *Reader) Index(ctx context.Context, url string) (Index, error) {
	eocd, err := r.LocateEOCD(ctx, url)
	if err != nil {
		return nil, err
	}
	return r.ReadCentralDirectory(ctx, url, eocd)
}

// DownloadEntry streams one stored entry's exact byte range into sink.
func (r *Reader) DownloadEntry(ctx context.Context, url string, ref PropertyFileRef, sink io.Writer) error {
	return r.src.CopyRange(ctx, url, int64(ref.Offset), int64(ref.Size), sink)
}

// ReadEntry fetches one stored entry fully into memory.
func (r *Reader) ReadEntry(ctx context.Context, url string, ref PropertyFileRef) ([]byte, error) {
	return r.src.ReadRange(ctx, url, int64(ref.Offset), int64(ref.Size))
}
