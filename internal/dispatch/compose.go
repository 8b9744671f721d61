package dispatch

import "courier/internal/storage"

// Compose builds the message a dispatch will deliver and record.
//
// Pure and deterministic: sender comes from config, recipient is the
// contact's address at composition time (never re-resolved later),
// subject and body are copied verbatim from the request.
func Compose(req Request, contact storage.Contact, sender string) storage.Message {
	return storage.Message{
		Sender:    sender,
		Recipient: contact.Email,
		Subject:   req.Subject,
		Body:      req.Body,
	}
}
