package storage

import (
	"encoding/base64"
	"time"
	"unicode/utf16"

	"github.com/bytedance/sonic"

	"github.com/sogeor/flow/domain"
)

const (
	edmDateTime = "Edm.DateTime"

	accountPartition = "account"
	emailPartition   = "email"
)

// Entity carries the table keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type accountEntity struct {
	Entity
	Email         string    `json:"Email"`
	Username      string    `json:"Username"`
	PasswordHash  string    `json:"PasswordHash"`
	Settings      string    `json:"Settings"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
}

type emailIndexEntity struct {
	Entity
	AccountID     string    `json:"AccountID"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
}

type boardEntity struct {
	Entity
	Title         string    `json:"Title"`
	Settings      string    `json:"Settings"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
}

type workflowEntity struct {
	Entity
	Title         string    `json:"Title"`
	Cards         string    `json:"Cards"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
}

// settingsUpdate and cardsUpdate are merge-mode payloads touching one column.
type settingsUpdate struct {
	Entity
	Settings string `json:"Settings"`
}

type cardsUpdate struct {
	Entity
	Cards string `json:"Cards"`
}

// emailKey maps an email onto characters allowed in a RowKey.
func emailKey(email string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(email))
}

func encodeAccount(a domain.Account) ([]byte, error) {
	settings, err := sonic.MarshalString(a.Settings)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(accountEntity{
		Entity:        Entity{PartitionKey: accountPartition, RowKey: a.ID},
		Email:         a.Email,
		Username:      a.Username,
		PasswordHash:  a.PasswordHash,
		Settings:      settings,
		CreatedAt:     a.CreatedAt,
		CreatedAtType: edmDateTime,
	})
}

func decodeAccount(data []byte) (domain.Account, error) {
	var ent accountEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Account{}, err
	}
	a := domain.Account{
		ID:           ent.RowKey,
		Email:        ent.Email,
		Username:     ent.Username,
		PasswordHash: ent.PasswordHash,
		CreatedAt:    ent.CreatedAt.UTC(),
	}
	if ent.Settings != "" {
		if err := sonic.UnmarshalString(ent.Settings, &a.Settings); err != nil {
			return domain.Account{}, err
		}
	}
	return a, nil
}

func encodeBoard(b domain.Board) ([]byte, error) {
	settings, err := sonic.MarshalString(b.Settings)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(boardEntity{
		Entity:        Entity{PartitionKey: b.OwnerID, RowKey: b.ID},
		Title:         b.Title,
		Settings:      settings,
		CreatedAt:     b.CreatedAt,
		CreatedAtType: edmDateTime,
	})
}

func decodeBoard(data []byte) (domain.Board, error) {
	var ent boardEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Board{}, err
	}
	b := domain.Board{
		ID:        ent.RowKey,
		OwnerID:   ent.PartitionKey,
		Title:     ent.Title,
		CreatedAt: ent.CreatedAt.UTC(),
	}
	if ent.Settings != "" {
		if err := sonic.UnmarshalString(ent.Settings, &b.Settings); err != nil {
			return domain.Board{}, err
		}
	}
	return b, nil
}

func encodeWorkflow(w domain.Workflow) ([]byte, error) {
	cards, err := encodeCards(w.Cards)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(workflowEntity{
		Entity:        Entity{PartitionKey: w.BoardID, RowKey: w.ID},
		Title:         w.Title,
		Cards:         cards,
		CreatedAt:     w.CreatedAt,
		CreatedAtType: edmDateTime,
	})
}

func decodeWorkflow(data []byte) (domain.Workflow, error) {
	var ent workflowEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Workflow{}, err
	}
	w := domain.Workflow{
		ID:        ent.RowKey,
		BoardID:   ent.PartitionKey,
		Title:     ent.Title,
		Cards:     domain.Cards{},
		CreatedAt: ent.CreatedAt.UTC(),
	}
	if ent.Cards != "" {
		if err := sonic.UnmarshalString(ent.Cards, &w.Cards); err != nil {
			return domain.Workflow{}, err
		}
	}
	return w, nil
}

// maxCardsBytes is the Azure Tables limit for a String property. The
// service measures it in UTF-16, so encoded length is counted the same way.
const maxCardsBytes = 64 * 1024

func encodeCards(cards domain.Cards) (string, error) {
	if cards == nil {
		cards = domain.Cards{}
	}
	s, err := sonic.MarshalString(cards)
	if err != nil {
		return "", err
	}
	if utf16Bytes(s) > maxCardsBytes {
		return "", domain.Invalid("cards", "Workflow has too many cards")
	}
	return s, nil
}

func utf16Bytes(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return 2 * n
}
