package extraction

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"image"
	"sync"

	"github.com/disintegration/imaging"
)

// Digest is the MD5 of an image's decoded pixels.
type Digest [md5.Size]byte

// DigestFunc fingerprints decoded pixel data.
type DigestFunc func(img image.Image) (Digest, error)

// PixelDigest hashes the dimensions and NRGBA pixels of img, so the same picture
// decoded from differently encoded streams gets the same digest.
func PixelDigest(img image.Image) (Digest, error) {
	if img == nil {
		return Digest{}, errors.New("cannot digest nil image")
	}
	pix := imaging.Clone(img)

	h := md5.New()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[:4], uint32(pix.Rect.Dx()))
	binary.BigEndian.PutUint32(dims[4:], uint32(pix.Rect.Dy()))
	h.Write(dims[:])
	h.Write(pix.Pix)

	var d Digest
	copy(d[:], h.Sum(nil))
	return d, nil
}

// DigestSet records digests seen during one extraction.
type DigestSet struct {
	mu   sync.Mutex
	seen map[Digest]struct{}
}

func NewDigestSet() *DigestSet {
	return &DigestSet{seen: make(map[Digest]struct{})}
}

// CheckAndInsert returns true if d was not seen before and is now recorded.
func (s *DigestSet) CheckAndInsert(d Digest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[d]; ok {
		return false
	}
	s.seen[d] = struct{}{}
	return true
}

func (s *DigestSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
