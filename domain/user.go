package domain

// User is a contact that signs in. The password only lives in memory during
// sign up and sign in.
type User struct {
	Contact
	Password string `json:"-" validate:"strictrequired,min=8"`
}

// ToDocument returns the shared contact projection without the password.
func (u *User) ToDocument() Document {
	return u.Contact.ToDocument()
}

// Account is the credential record of a registered user.
type Account struct {
	Email        string
	UserID       string
	PasswordHash string
}

func (a *Account) Collection() Collection { return AccountsCollection }

// DocumentID keys accounts by email so lookups during sign in are direct.
func (a *Account) DocumentID() string { return a.Email }

func (a *Account) ToDocument() Document {
	return Document{
		"id":           a.Email,
		"userId":       a.UserID,
		"passwordHash": a.PasswordHash,
	}
}

// AccountFromDocument maps a stored credential record.
func AccountFromDocument(doc Document) *Account {
	return &Account{
		Email:        doc.ID(),
		UserID:       doc.String("userId"),
		PasswordHash: doc.String("passwordHash"),
	}
}
