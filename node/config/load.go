package config

import (
	"bytes"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// FromFile loads config from a specified file, overriding defaults
// specified in def. If the file does not exist or is empty, defaults
// are assumed.
func FromFile(path string, def *Client) (*Client, error) {
	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return def, nil
	case err != nil:
		return nil, err
	}

	defer file.Close() //nolint:errcheck // The file is RO
	return FromReader(file, def)
}

// FromReader loads config from a reader instance.
func FromReader(reader io.Reader, def *Client) (*Client, error) {
	cfg := def
	if _, err := toml.NewDecoder(reader).Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigComment renders a config as TOML with every value line
// commented out, for writing a fresh config file whose defaults stay
// defaults until the user uncomments them.
func ConfigComment(t interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	_, _ = buf.WriteString("# Default config:\n")
	e := toml.NewEncoder(buf)
	if err := e.Encode(t); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}
	b := buf.Bytes()
	b = bytes.ReplaceAll(b, []byte("\n"), []byte("\n#"))
	b = bytes.ReplaceAll(b, []byte("#["), []byte("["))
	return b, nil
}
