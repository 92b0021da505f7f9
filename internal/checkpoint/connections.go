package checkpoint

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const (
	masterKeyEnv     = "TABUL_MASTER_KEY"
	connCipherV1     = byte(1)
	minCipherPayload = 1 + 12 // version + nonce
)

// SavedConnection is a connection declared with `connection add`. The uri
// and attributes may hold credentials and are stored encrypted.
type SavedConnection struct {
	Name       string            `json:"-"`
	URI        string            `json:"uri"`
	Attributes map[string]string `json:"attributes,omitempty"`
	CreatedAt  time.Time         `json:"-"`
	UpdatedAt  time.Time         `json:"-"`
}

// SaveConnection stores an encrypted connection, replacing one of the same name.
func (s *State) SaveConnection(name, uri string, attributes map[string]string) error {
	if name == "" {
		return fmt.Errorf("connection name is required")
	}
	if uri == "" {
		return fmt.Errorf("the connection (%s) has no uri", name)
	}

	plain, err := json.Marshal(SavedConnection{URI: uri, Attributes: attributes})
	if err != nil {
		return err
	}
	enc, err := encryptConnection(name, plain)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO connections (name, config_enc, created_at, updated_at)
		VALUES (?, ?, datetime('now'), datetime('now'))
		ON CONFLICT(name) DO UPDATE SET
			config_enc = excluded.config_enc,
			updated_at = datetime('now')
	`, name, enc)
	return err
}

// GetConnection returns the decrypted connection or nil when it does not exist.
func (s *State) GetConnection(name string) (*SavedConnection, error) {
	var enc []byte
	var createdAtStr, updatedAtStr string
	err := s.db.QueryRow(`SELECT config_enc, created_at, updated_at FROM connections WHERE name = ?`, name).
		Scan(&enc, &createdAtStr, &updatedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeConnection(name, enc, createdAtStr, updatedAtStr)
}

// DeleteConnection removes a saved connection.
func (s *State) DeleteConnection(name string) error {
	res, err := s.db.Exec(`DELETE FROM connections WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("the connection (%s) is not saved", name)
	}
	return nil
}

// ListConnections returns the saved connections sorted by name.
func (s *State) ListConnections() ([]SavedConnection, error) {
	rows, err := s.db.Query(`
		SELECT name, config_enc, created_at, updated_at
		FROM connections
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []SavedConnection
	for rows.Next() {
		var name, createdAtStr, updatedAtStr string
		var enc []byte
		if err := rows.Scan(&name, &enc, &createdAtStr, &updatedAtStr); err != nil {
			return nil, err
		}
		c, err := decodeConnection(name, enc, createdAtStr, updatedAtStr)
		if err != nil {
			return nil, err
		}
		conns = append(conns, *c)
	}
	return conns, rows.Err()
}

func decodeConnection(name string, enc []byte, createdAtStr, updatedAtStr string) (*SavedConnection, error) {
	plain, err := decryptConnection(name, enc)
	if err != nil {
		return nil, err
	}
	var c SavedConnection
	if err := json.Unmarshal(plain, &c); err != nil {
		return nil, fmt.Errorf("decoding connection %s: %w", name, err)
	}
	c.Name = name
	c.CreatedAt, _ = time.ParseInLocation(sqliteTime, createdAtStr, time.UTC)
	c.UpdatedAt, _ = time.ParseInLocation(sqliteTime, updatedAtStr, time.UTC)
	return &c, nil
}

func newGCM() (cipher.AEAD, error) {
	key, err := getMasterKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return gcm, nil
}

// The connection name is the additional data so that a payload cannot be
// moved to another name.
func encryptConnection(name string, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, []byte(name))
	payload := append([]byte{connCipherV1}, nonce...)
	payload = append(payload, ciphertext...)
	return payload, nil
}

func decryptConnection(name string, payload []byte) ([]byte, error) {
	if len(payload) < minCipherPayload {
		return nil, errors.New("encrypted connection payload is too short")
	}
	if payload[0] != connCipherV1 {
		return nil, fmt.Errorf("unsupported connection cipher version: %d", payload[0])
	}

	gcm, err := newGCM()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(payload) < 1+nonceSize {
		return nil, errors.New("encrypted connection payload missing nonce")
	}
	nonce := payload[1 : 1+nonceSize]
	ciphertext := payload[1+nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, []byte(name))
	if err != nil {
		return nil, fmt.Errorf("decrypt connection %s: %w", name, err)
	}
	return plaintext, nil
}

func getMasterKey() ([]byte, error) {
	raw := os.Getenv(masterKeyEnv)
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", masterKeyEnv)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be base64-encoded: %w", masterKeyEnv, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes (got %d)", masterKeyEnv, len(key))
	}
	return key, nil
}
