package card

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Images are saved as YAML with hex strings:
//
//	protocol: sector
//	uid: 04A1B2C3
//	blocks:
//	  - index: 0
//	    data: 04A1B2C3...
//	files:
//	  - app: F21190
//	    id: 8
//	    type: 1
//	    data: 00...

type dumpDoc struct {
	Protocol string      `yaml:"protocol"`
	UID      string      `yaml:"uid"`
	Blocks   []dumpBlock `yaml:"blocks,omitempty"`
	Files    []dumpFile  `yaml:"files,omitempty"`
}

type dumpBlock struct {
	Index int    `yaml:"index"`
	Data  string `yaml:"data"`
}

type dumpFile struct {
	App  string `yaml:"app"`
	ID   int    `yaml:"id"`
	Type byte   `yaml:"type"`
	Data string `yaml:"data"`
}

func encodeHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func decodeHex(field, s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return b, nil
}

// WriteYAML saves the image.
func (img *Image) WriteYAML(w io.Writer) error {
	doc := dumpDoc{Protocol: img.Protocol.String(), UID: encodeHex(img.UID)}
	for _, b := range img.blocks {
		doc.Blocks = append(doc.Blocks, dumpBlock{Index: b.Index, Data: encodeHex(b.Data)})
	}
	for _, f := range img.files {
		doc.Files = append(doc.Files, dumpFile{App: encodeHex(f.App), ID: f.ID, Type: f.Type, Data: encodeHex(f.Data)})
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// LoadImage reads an image saved by WriteYAML. Whitespace inside hex
// strings is ignored. Every block must have the block size of the
// protocol, so file cards carry no blocks.
func LoadImage(r io.Reader) (*Image, error) {
	var doc dumpDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("card dump: %w", err)
	}

	p, err := ParseProtocol(doc.Protocol)
	if err != nil {
		return nil, fmt.Errorf("card dump: %w", err)
	}
	uid, err := decodeHex("uid", doc.UID)
	if err != nil {
		return nil, fmt.Errorf("card dump: %w", err)
	}

	b := NewImageBuilder(p, uid)
	for _, blk := range doc.Blocks {
		data, err := decodeHex(fmt.Sprintf("block %d", blk.Index), blk.Data)
		if err != nil {
			return nil, fmt.Errorf("card dump: %w", err)
		}
		if n := p.BlockSize(); len(data) != n {
			return nil, fmt.Errorf("card dump: block %d: %d bytes, want %d", blk.Index, len(data), n)
		}
		b.AddBlock(blk.Index, data)
	}
	for _, f := range doc.Files {
		app, err := decodeHex(fmt.Sprintf("file %d app", f.ID), f.App)
		if err != nil {
			return nil, fmt.Errorf("card dump: %w", err)
		}
		data, err := decodeHex(fmt.Sprintf("file %d", f.ID), f.Data)
		if err != nil {
			return nil, fmt.Errorf("card dump: %w", err)
		}
		b.AddFile(File{App: app, ID: f.ID, Type: f.Type, Data: data})
	}
	return b.Image(), nil
}
