package catalog

import (
	"statesync/internal/model"
	"statesync/internal/query"
)

// ContactEntity is the registered name of Contact.
const ContactEntity = "contact"

// ContactVersion is bumped whenever Contact changes shape incompatibly.
const ContactVersion = 1

// Contact is an address book entry. Its schema is derived from the struct.
type Contact struct {
	model.Meta
	Name  string   `json:"name"`
	Email string   `json:"email"`
	Age   int      `json:"age"`
	City  *string  `json:"city,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func (c Contact) WithMeta(m model.Meta) Contact { c.Meta = m; return c }

func (c Contact) Clone() Contact {
	c.Tags = append([]string(nil), c.Tags...)
	if c.City != nil {
		city := *c.City
		c.City = &city
	}
	return c
}

// ContactSchema lists the queryable fields of Contact.
var ContactSchema = mustReflect[Contact]()

func mustReflect[T model.Record[T]]() *query.Schema[T] {
	s, err := query.Reflect[T]()
	if err != nil {
		panic(err)
	}
	return s
}
