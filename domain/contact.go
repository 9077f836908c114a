package domain

import (
	"math/rand"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Palette holds the icon colors a contact can be assigned.
var Palette = []string{
	"#FF7A00", "#FF5EB3", "#6E52FF", "#9327FF", "#00BEE8",
	"#1FD7C1", "#FF745E", "#FFA35E", "#FC71FF", "#FFC701",
	"#0038FF", "#C3FF2B", "#FFE62B", "#FF4646", "#FFBB2B",
}

// Contact is an address book entry.
type Contact struct {
	ID        string `json:"id"`
	FirstName string `json:"firstname" validate:"strictrequired,min=2,firstuppercase"`
	LastName  string `json:"lastname" validate:"strictrequired,min=2,firstuppercase"`
	Email     string `json:"email" validate:"strictrequired,email"`
	Tel       string `json:"tel" validate:"strictrequired,tel"`
	Group     string `json:"group"`
	Color     string `json:"iconColor"`
	// Selected marks the contact highlighted in the list; it is never stored.
	Selected bool `json:"-"`
}

// NewContact creates a contact with a random icon color and a computed group.
func NewContact(firstName, lastName, email, tel string) *Contact {
	c := &Contact{
		FirstName: strings.TrimSpace(firstName),
		LastName:  strings.TrimSpace(lastName),
		Email:     strings.TrimSpace(email),
		Tel:       strings.TrimSpace(tel),
		Color:     RandomColor(),
	}
	c.UpdateGroup()
	return c
}

// RandomColor picks a color from Palette.
func RandomColor() string {
	return Palette[rand.Intn(len(Palette))]
}

// GroupOf returns the uppercased first letter of name.
func GroupOf(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	r, _ := utf8.DecodeRuneInString(name)
	return cases.Upper(language.Und).String(string(r))
}

// UpdateGroup recomputes Group from FirstName.
func (c *Contact) UpdateGroup() {
	c.Group = GroupOf(c.FirstName)
}

// FullName joins first and last name.
func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Initials returns the uppercased first letters of first and last name.
func (c *Contact) Initials() string {
	return GroupOf(c.FirstName) + GroupOf(c.LastName)
}

func (c *Contact) Collection() Collection { return ContactsCollection }

func (c *Contact) DocumentID() string { return c.ID }

// ToDocument projects the contact onto its stored fields.
func (c *Contact) ToDocument() Document {
	return Document{
		"id":        c.ID,
		"firstname": c.FirstName,
		"lastname":  c.LastName,
		"email":     c.Email,
		"tel":       c.Tel,
		"group":     c.Group,
		"iconColor": c.Color,
	}
}

// ContactFromDocument maps a stored document onto a Contact. A document
// without a color gets a fresh one.
func ContactFromDocument(doc Document) (*Contact, error) {
	c := &Contact{
		ID:        doc.ID(),
		FirstName: doc.String("firstname"),
		LastName:  doc.String("lastname"),
		Email:     doc.String("email"),
		Tel:       doc.String("tel"),
		Group:     doc.String("group"),
		Color:     doc.String("iconColor"),
	}
	if c.Color == "" {
		c.Color = RandomColor()
	}
	return c, nil
}
