// Package card models the memory image read from a contactless card and
// the transport used to read it.
//
// Three memory organisations are supported, matching the Protocol tag:
//
//   - SectorBased: MIFARE Classic. 16-byte blocks grouped in sectors, each
//     sector protected by two 6-byte keys stored in its trailer block.
//   - PageBased: MIFARE Ultralight / NTAG. 4-byte pages, no keys.
//   - DirectoryFile: MIFARE DESFire and ISO 7816-4 cards. Data lives in
//     files grouped under applications.
package card

import (
	"bytes"
	"fmt"
	"sort"
)

// Protocol identifies the memory organisation of a card.
type Protocol int

const (
	SectorBased Protocol = iota + 1
	PageBased
	DirectoryFile
)

var protocolNames = map[Protocol]string{
	SectorBased:   "sector",
	PageBased:     "page",
	DirectoryFile: "file",
}

func (p Protocol) String() string {
	if s, ok := protocolNames[p]; ok {
		return s
	}
	return fmt.Sprintf("Protocol(%d)", int(p))
}

// ParseProtocol is the inverse of Protocol.String.
func ParseProtocol(s string) (Protocol, error) {
	for p, name := range protocolNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// Block sizes per protocol.
const (
	ClassicBlockSize = 16
	PageSize         = 4
)

// BlockSize is the size of the blocks of p, 0 for cards without blocks.
func (p Protocol) BlockSize() int {
	switch p {
	case SectorBased:
		return ClassicBlockSize
	case PageBased:
		return PageSize
	}
	return 0
}

// Block is one block (or page) and its physical index.
type Block struct {
	Index int
	Data  []byte
}

// File is one file of a directory-file card. App is the application
// identifier (3 bytes for DESFire, the AID for ISO applications), ID the
// file number (or SFI<<8 | record for ISO record files).
type File struct {
	App  []byte
	ID   int
	Type byte
	Data []byte
}

// Image is the memory read from a card. Images are immutable once built;
// accessors return the stored slices and callers must not modify them.
type Image struct {
	Protocol Protocol
	UID      []byte

	blocks []Block
	index  map[int]int
	files  []File
}

// Blocks returns the readable blocks in index order.
func (img *Image) Blocks() []Block { return img.blocks }

// Files returns the files in read order.
func (img *Image) Files() []File { return img.files }

// Block returns the data of block i, if it was read.
func (img *Image) Block(i int) ([]byte, bool) {
	n, ok := img.index[i]
	if !ok {
		return nil, false
	}
	return img.blocks[n].Data, true
}

// Sector returns the blocks of a MIFARE Classic sector, trailer included.
// ok is false unless every block of the sector was read.
func (img *Image) Sector(s int) ([][]byte, bool) {
	first, n := FirstBlock(s), BlocksIn(s)
	out := make([][]byte, 0, n)
	for i := first; i < first+n; i++ {
		b, ok := img.Block(i)
		if !ok {
			return nil, false
		}
		out = append(out, b)
	}
	return out, true
}

// File returns the data of file id under app.
func (img *Image) File(app []byte, id int) (File, bool) {
	for _, f := range img.files {
		if f.ID == id && bytes.Equal(f.App, app) {
			return f, true
		}
	}
	return File{}, false
}

// HasApp reports whether any file of app was read.
func (img *Image) HasApp(app []byte) bool {
	for _, f := range img.files {
		if bytes.Equal(f.App, app) {
			return true
		}
	}
	return false
}

// Bytes concatenates blocks first..first+n-1; ok is false if any is missing.
func (img *Image) Bytes(first, n int) ([]byte, bool) {
	var out []byte
	for i := first; i < first+n; i++ {
		b, ok := img.Block(i)
		if !ok {
			return nil, false
		}
		out = append(out, b...)
	}
	return out, true
}

// ImageBuilder collects blocks and files while a card is being read.
type ImageBuilder struct {
	img *Image
}

// NewImageBuilder starts an image.
func NewImageBuilder(p Protocol, uid []byte) *ImageBuilder {
	return &ImageBuilder{img: &Image{
		Protocol: p,
		UID:      append([]byte(nil), uid...),
		index:    map[int]int{},
	}}
}

// AddBlock stores a copy of data as block i, replacing an earlier read.
func (b *ImageBuilder) AddBlock(i int, data []byte) *ImageBuilder {
	data = append([]byte(nil), data...)
	if n, ok := b.img.index[i]; ok {
		b.img.blocks[n].Data = data
		return b
	}
	b.img.index[i] = len(b.img.blocks)
	b.img.blocks = append(b.img.blocks, Block{Index: i, Data: data})
	return b
}

// AddFile stores a copy of f.
func (b *ImageBuilder) AddFile(f File) *ImageBuilder {
	f.App = append([]byte(nil), f.App...)
	f.Data = append([]byte(nil), f.Data...)
	b.img.files = append(b.img.files, f)
	return b
}

// Image returns the built image, with blocks sorted by index.
func (b *ImageBuilder) Image() *Image {
	img := b.img
	b.img = nil

	sort.Slice(img.blocks, func(i, j int) bool { return img.blocks[i].Index < img.blocks[j].Index })
	for n, blk := range img.blocks {
		img.index[blk.Index] = n
	}
	return img
}
