package qvd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Template is a table definition loaded from an XML header template,
// the starting point for authoring a new table file.
type Template struct {
	// Name is the path of the table file the template describes.
	Name string
	// Header contains the raw header XML, including the closing tag.
	Header []byte

	meta *Metadata
}

// Create loads a header template. The target table file is named after
// the template with a .qvd extension and must not exist yet.
func Create(templateName string, o *ReaderOptions) (*Template, error) {
	o = o.norm()

	target := strings.TrimSuffix(templateName, filepath.Ext(templateName)) + ".qvd"
	if _, err := os.Stat(target); err == nil {
		return nil, errors.Wrapf(ErrAlreadyExists, "%s", target)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	raw, err := os.ReadFile(templateName)
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrFileNotFound, "open %s", templateName)
	} else if err != nil {
		return nil, err
	}

	header, _, err := scanHeader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, err
	}

	meta, err := ParseMetadata(header)
	if err != nil {
		return nil, err
	}

	_ = level.Debug(o.Logger).Log(
		"msg", "loaded template",
		"template", templateName,
		"target", target,
		"table", meta.Table.Name,
		"fields", len(meta.Fields),
	)

	return &Template{Name: target, Header: header, meta: meta}, nil
}

// Metadata returns the template metadata.
func (t *Template) Metadata() *Metadata { return t.meta }
