package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

const chunkSize = 4096

type Digest [sha256.Size]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// File streams the file at path through SHA-256.
func File(path string) (Digest, error) {
	var d Digest
	f, err := os.Open(path)
	if err != nil {
		return d, err
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	for {
		n, err := f.Read(buf)
		h.Write(buf[:n])
		if err == io.EOF {
			break
		}
		if err != nil {
			return d, err
		}
	}
	copy(d[:], h.Sum(nil))
	return d, nil
}
