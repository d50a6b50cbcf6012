package enhancer

import (
	"encoding/xml"
	"fmt"
	"os"
)

// element is one <tag value="..."/> entry in the supervised binary's own
// server config document. The schema is flat: every setting the game cares
// about is a same-shaped element keyed by tag name, so a generic
// get/set-by-tag-name pair is all callers need.
type element struct {
	XMLName xml.Name
	Value   string `xml:"value,attr"`
}

// ServerConfig is the supervised binary's per-server XML config document
// (distinct from this supervisor's own JSON fleet document).
type ServerConfig struct {
	XMLName  xml.Name  `xml:"server-config"`
	Elements []element `xml:",any"`
}

// Get returns the value attribute of the first element named tag.
func (c *ServerConfig) Get(tag string) (string, bool) {
	for _, e := range c.Elements {
		if e.XMLName.Local == tag {
			return e.Value, true
		}
	}
	return "", false
}

// Set overwrites (or appends) the element named tag with value.
func (c *ServerConfig) Set(tag, value string) {
	for i := range c.Elements {
		if c.Elements[i].XMLName.Local == tag {
			c.Elements[i].Value = value
			return
		}
	}
	c.Elements = append(c.Elements, element{XMLName: xml.Name{Local: tag}, Value: value})
}

// LoadServerConfig reads and parses a server config document. A decoder
// configured with no external entity/DTD resolution; encoding/xml performs
// no such expansion by default, so no extra configuration is needed to
// satisfy the "safe XML parser" requirement.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("enhancer: reading server config %q: %w", path, err)
	}
	var cfg ServerConfig
	if err := xml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("enhancer: parsing server config %q: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path, replacing any existing file.
func (c *ServerConfig) Save(path string) error {
	data, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("enhancer: marshaling server config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("enhancer: writing server config %q: %w", path, err)
	}
	return nil
}
