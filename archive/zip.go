package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// BundleFileName is the bundle document inside a zip archive.
const BundleFileName = "workflows.json"

// maxBundleSize bounds the decompressed workflows.json.
const maxBundleSize = 256 << 20

var ErrNoBundleFile = errors.New("Invalid ZIP file: workflows.json not found")

// WriteZip writes b as an indented workflows.json inside a zip archive.
func WriteZip(w io.Writer, b *Bundle) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bundle: %w", err)
	}

	zw := zip.NewWriter(w)
	f, err := zw.CreateHeader(&zip.FileHeader{
		Name:     BundleFileName,
		Method:   zip.Deflate,
		Modified: b.ExportedAt,
	})
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	return zw.Close()
}

// ReadZip reads the bundle stored in a zip archive of the given size.
func ReadZip(r io.ReaderAt, size int64) (*Bundle, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("Invalid ZIP file: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != BundleFileName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		data, err := io.ReadAll(io.LimitReader(rc, maxBundleSize+1))
		if err != nil {
			return nil, err
		}
		if len(data) > maxBundleSize {
			return nil, fmt.Errorf("%s exceeds %d bytes", BundleFileName, maxBundleSize)
		}
		return DecodeBundle(data)
	}
	return nil, ErrNoBundleFile
}

// IsZip reports whether b starts with a zip local file header.
func IsZip(b []byte) bool {
	return len(b) >= 4 && b[0] == 'P' && b[1] == 'K' && b[2] == 3 && b[3] == 4
}
