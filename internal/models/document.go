package models

// Document is a point-in-time snapshot of a remote entity. Field values are
// opaque to the sync core; UpdatedAt and Version carry the bookkeeping the
// conflict detector compares against an operation's basis.
type Document struct {
	Collection string                 `json:"collection"`
	ID         string                 `json:"id"`
	Fields     map[string]interface{} `json:"fields"`
	UpdatedAt  int64                  `json:"updated_at,omitempty"`
	Version    int64                  `json:"version,omitempty"`
}

// Field returns a field value and whether it is present.
func (d *Document) Field(name string) (interface{}, bool) {
	if d == nil || d.Fields == nil {
		return nil, false
	}
	v, ok := d.Fields[name]
	return v, ok
}
