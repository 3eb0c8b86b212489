package api

import (
	"errors"
	"fmt"
)

// Validator - интерфейс, который могут реализовать сообщения.
// Decode вызывает Validate после успешного разбора тела.
type Validator interface {
	Validate() error
}

func (m *ClientJoin) Validate() error {
	if m.Revision == "" {
		return errors.New("revision is required")
	}
	if m.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func (m *ServerNeedPassword) Validate() error {
	if len(m.Salt) != SaltLen {
		return fmt.Errorf("salt must be %d bytes, got %d", SaltLen, len(m.Salt))
	}
	return nil
}

func (m *ClientPassword) Validate() error {
	if len(m.Digest) != DigestLen {
		return fmt.Errorf("digest must be %d bytes, got %d", DigestLen, len(m.Digest))
	}
	return nil
}

func (m *ServerWelcome) Validate() error {
	if m.SyncInterval == 0 {
		return errors.New("sync interval must be positive")
	}
	return nil
}

func (m *ServerMapDone) Validate() error {
	if len(m.Digest) != DigestLen {
		return fmt.Errorf("digest must be %d bytes, got %d", DigestLen, len(m.Digest))
	}
	return nil
}

func (m *ServerMapData) Validate() error {
	if len(m.Chunk) == 0 {
		return errors.New("empty map chunk")
	}
	return nil
}

func (m *ClientCommand) Validate() error {
	if len(m.Command) == 0 {
		return errors.New("empty command")
	}
	return nil
}

func (m *ServerCommand) Validate() error {
	if len(m.Command) == 0 {
		return errors.New("empty command")
	}
	return nil
}

func (m *ClientChat) Validate() error {
	if m.Text == "" {
		return errors.New("empty chat message")
	}
	return nil
}

func (m *ClientRcon) Validate() error {
	if m.Command == "" {
		return errors.New("empty rcon command")
	}
	return nil
}

func (m *ClientError) Validate() error {
	if !m.Code.Valid() {
		return fmt.Errorf("error code %d out of range", m.Code)
	}
	return nil
}

func (m *ServerError) Validate() error {
	if !m.Code.Valid() {
		return fmt.Errorf("error code %d out of range", m.Code)
	}
	return nil
}
