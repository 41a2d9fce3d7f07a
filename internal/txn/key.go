package txn

import "strings"

// EntityKey addresses a node in the workspace tree. Trailing empty
// fields mean the key stops at that depth, so a key can name a client,
// a product, a session, or a single message.
type EntityKey struct {
	ClientID  string
	ProductID string
	SessionID string
	MessageID string
}

// ClientKey addresses a whole workspace.
func ClientKey(clientID string) EntityKey {
	return EntityKey{ClientID: clientID}
}

// ProductKey addresses one product.
func ProductKey(clientID, productID string) EntityKey {
	return EntityKey{ClientID: clientID, ProductID: productID}
}

// SessionKey addresses one session. Message-level operations also key
// at this depth so writes to a session serialize with each other.
func SessionKey(clientID, productID, sessionID string) EntityKey {
	return EntityKey{ClientID: clientID, ProductID: productID, SessionID: sessionID}
}

// MessageKey addresses one message.
func MessageKey(clientID, productID, sessionID, messageID string) EntityKey {
	return EntityKey{
		ClientID:  clientID,
		ProductID: productID,
		SessionID: sessionID,
		MessageID: messageID,
	}
}

// String renders the key as a slash-joined path for logs.
func (k EntityKey) String() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{k.ClientID, k.ProductID, k.SessionID, k.MessageID} {
		if p == "" {
			break
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, "/")
}

// IsZero reports whether the key is empty.
func (k EntityKey) IsZero() bool {
	return k == EntityKey{}
}
