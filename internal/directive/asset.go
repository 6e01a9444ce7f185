package directive

import (
	"io"
	"os"

	"github.com/h2non/filetype"
)

// Asset kinds reported by AssetKind.
const (
	KindVideo   = "video"
	KindImage   = "image"
	KindAudio   = "audio"
	KindOther   = "other"
	KindMissing = "missing"
)

// headerSize is enough for filetype's matchers.
const headerSize = 262

// AssetKind sniffs the first bytes of the file at path.
func AssetKind(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return KindMissing
	}
	defer f.Close()

	head := make([]byte, headerSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return KindMissing
	}
	head = head[:n]

	switch {
	case filetype.IsVideo(head):
		return KindVideo
	case filetype.IsImage(head):
		return KindImage
	case filetype.IsAudio(head):
		return KindAudio
	default:
		return KindOther
	}
}
