package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/sogeor/flow/domain"
)

const (
	maxBatchSize   = 100
	maxCardRetries = 5

	// emailClaimGrace is how long a fresh email index row is left alone
	// while its signup inserts the account row.
	emailClaimGrace = time.Minute
)

var errCardContention = errors.New("workflow changed concurrently, giving up")

// tableClient is the subset of *aztables.Client the store uses.
type tableClient interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Tables is the Azure Table Storage Resource Store.
type Tables struct {
	accounts  tableClient
	boards    tableClient
	workflows tableClient
	log       log.FieldLogger
	now       func() time.Time
}

var _ domain.Store = (*Tables)(nil)

// NewTables creates a store from the given connection string and table names.
func NewTables(connStr, accountsTable, boardsTable, workflowsTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{
		accounts:  svc.NewClient(accountsTable),
		boards:    svc.NewClient(boardsTable),
		workflows: svc.NewClient(workflowsTable),
		log:       log.StandardLogger(),
		now:       time.Now,
	}, nil
}

// WithLogger sets the logger used for failures the store recovers from.
func (t *Tables) WithLogger(logger log.FieldLogger) *Tables {
	if logger != nil {
		t.log = logger
	}
	return t
}

// --- accounts ---

func (t *Tables) CreateAccount(ctx context.Context, a domain.Account) error {
	idx, err := sonic.Marshal(emailIndexEntity{
		Entity:        Entity{PartitionKey: emailPartition, RowKey: emailKey(a.Email)},
		AccountID:     a.ID,
		CreatedAt:     t.now().UTC(),
		CreatedAtType: edmDateTime,
	})
	if err != nil {
		return err
	}
	if err := t.claimEmail(ctx, a.Email, idx); err != nil {
		return err
	}
	payload, err := encodeAccount(a)
	if err == nil {
		_, err = t.accounts.AddEntity(ctx, payload, nil)
	}
	if err != nil {
		// Release the email so a retry can succeed.
		if _, delErr := t.accounts.DeleteEntity(ctx, emailPartition, emailKey(a.Email), nil); delErr != nil && !hasStatus(delErr, http.StatusNotFound) {
			t.log.WithError(delErr).WithField("account", a.ID).Warn("release email index after failed account insert")
		}
		if hasStatus(err, http.StatusConflict) {
			return &domain.ConflictError{Kind: domain.KindAccount, Err: err}
		}
		return err
	}
	return nil
}

// claimEmail inserts the email index row. An existing row older than
// emailClaimGrace whose account is gone is reclaimed once; anything else is a
// conflict.
func (t *Tables) claimEmail(ctx context.Context, email string, idx []byte) error {
	_, err := t.accounts.AddEntity(ctx, idx, nil)
	if err == nil {
		return nil
	}
	if !hasStatus(err, http.StatusConflict) {
		return err
	}
	reclaimed, rerr := t.reclaimEmail(ctx, email)
	if rerr != nil {
		return rerr
	}
	if !reclaimed {
		return &domain.ConflictError{Kind: domain.KindAccount, Err: err}
	}
	if _, err := t.accounts.AddEntity(ctx, idx, nil); err != nil {
		if hasStatus(err, http.StatusConflict) {
			return &domain.ConflictError{Kind: domain.KindAccount, Err: err}
		}
		return err
	}
	return nil
}

// reclaimEmail deletes an index row left behind by a removed account. It
// reports whether the row is gone.
func (t *Tables) reclaimEmail(ctx context.Context, email string) (bool, error) {
	key := emailKey(email)
	resp, err := t.accounts.GetEntity(ctx, emailPartition, key, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return true, nil
		}
		return false, err
	}
	var idx emailIndexEntity
	if err := sonic.Unmarshal(resp.Value, &idx); err != nil {
		return false, err
	}
	if t.now().Sub(idx.CreatedAt) < emailClaimGrace {
		return false, nil
	}
	if _, err := t.accounts.GetEntity(ctx, accountPartition, idx.AccountID, nil); err == nil {
		return false, nil
	} else if !hasStatus(err, http.StatusNotFound) {
		return false, err
	}
	etag := resp.ETag
	if _, err := t.accounts.DeleteEntity(ctx, emailPartition, key, &aztables.DeleteEntityOptions{IfMatch: &etag}); err != nil {
		switch {
		case hasStatus(err, http.StatusNotFound):
			return true, nil
		case hasStatus(err, http.StatusPreconditionFailed):
			return false, nil
		default:
			return false, err
		}
	}
	t.log.WithField("account", idx.AccountID).Info("reclaimed orphaned email index")
	return true, nil
}

func (t *Tables) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	resp, err := t.accounts.GetEntity(ctx, accountPartition, id, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Account{}, domain.NotFound(domain.KindAccount, id)
		}
		return domain.Account{}, err
	}
	return decodeAccount(resp.Value)
}

func (t *Tables) FindAccountByEmail(ctx context.Context, email string) (domain.Account, error) {
	resp, err := t.accounts.GetEntity(ctx, emailPartition, emailKey(email), nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Account{}, domain.NotFound(domain.KindAccount, email)
		}
		return domain.Account{}, err
	}
	var idx emailIndexEntity
	if err := sonic.Unmarshal(resp.Value, &idx); err != nil {
		return domain.Account{}, err
	}
	return t.GetAccount(ctx, idx.AccountID)
}

func (t *Tables) ReplaceAccountSettings(ctx context.Context, id string, s domain.AccountSettings) (domain.Account, error) {
	if err := t.replaceSettings(ctx, t.accounts, accountPartition, id, s); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Account{}, domain.NotFound(domain.KindAccount, id)
		}
		return domain.Account{}, err
	}
	return t.GetAccount(ctx, id)
}

func (t *Tables) DeleteAccount(ctx context.Context, id string) (domain.Account, error) {
	acc, err := t.GetAccount(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	// The index row goes first so an interrupted delete leaves a live
	// account row for the cascade replay to find.
	if err := t.releaseEmail(ctx, acc); err != nil {
		return domain.Account{}, err
	}
	if _, err := t.accounts.DeleteEntity(ctx, accountPartition, id, nil); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Account{}, domain.NotFound(domain.KindAccount, id)
		}
		return domain.Account{}, err
	}
	return acc, nil
}

func (t *Tables) releaseEmail(ctx context.Context, acc domain.Account) error {
	key := emailKey(acc.Email)
	resp, err := t.accounts.GetEntity(ctx, emailPartition, key, nil)
	if err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return nil
		}
		return fmt.Errorf("release email: %w", err)
	}
	var idx emailIndexEntity
	if err := sonic.Unmarshal(resp.Value, &idx); err != nil {
		return fmt.Errorf("release email: %w", err)
	}
	if idx.AccountID != acc.ID {
		return nil
	}
	etag := resp.ETag
	if _, err := t.accounts.DeleteEntity(ctx, emailPartition, key, &aztables.DeleteEntityOptions{IfMatch: &etag}); err != nil && !hasStatus(err, http.StatusNotFound) {
		return fmt.Errorf("release email: %w", err)
	}
	return nil
}

// --- boards ---

func (t *Tables) CreateBoard(ctx context.Context, b domain.Board) error {
	payload, err := encodeBoard(b)
	if err != nil {
		return err
	}
	if _, err := t.boards.AddEntity(ctx, payload, nil); err != nil {
		if hasStatus(err, http.StatusConflict) {
			return &domain.ConflictError{Kind: domain.KindBoard, Err: err}
		}
		return err
	}
	return nil
}

func (t *Tables) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	data, err := findByRowKey(ctx, t.boards, id)
	if err != nil {
		return domain.Board{}, err
	}
	if data == nil {
		return domain.Board{}, domain.NotFound(domain.KindBoard, id)
	}
	return decodeBoard(data)
}

func (t *Tables) ListBoards(ctx context.Context, ownerID string) ([]domain.Board, error) {
	rows, err := listPartition(ctx, t.boards, ownerID, "")
	if err != nil {
		return nil, err
	}
	boards := make([]domain.Board, 0, len(rows))
	for _, row := range rows {
		b, err := decodeBoard(row)
		if err != nil {
			return nil, err
		}
		boards = append(boards, b)
	}
	sort.SliceStable(boards, func(i, j int) bool { return boards[i].CreatedAt.Before(boards[j].CreatedAt) })
	return boards, nil
}

func (t *Tables) BoardIDs(ctx context.Context, ownerID string) ([]string, error) {
	return rowKeys(ctx, t.boards, ownerID)
}

func (t *Tables) ReplaceBoardSettings(ctx context.Context, id string, s domain.BoardSettings) (domain.Board, error) {
	b, err := t.GetBoard(ctx, id)
	if err != nil {
		return domain.Board{}, err
	}
	if err := t.replaceSettings(ctx, t.boards, b.OwnerID, id, s); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Board{}, domain.NotFound(domain.KindBoard, id)
		}
		return domain.Board{}, err
	}
	b.Settings = s.Clone()
	return b, nil
}

func (t *Tables) DeleteBoard(ctx context.Context, id string) (domain.Board, error) {
	b, err := t.GetBoard(ctx, id)
	if err != nil {
		return domain.Board{}, err
	}
	if _, err := t.boards.DeleteEntity(ctx, b.OwnerID, id, nil); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Board{}, domain.NotFound(domain.KindBoard, id)
		}
		return domain.Board{}, err
	}
	return b, nil
}

func (t *Tables) DeleteBoardsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	ids, err := rowKeys(ctx, t.boards, ownerID)
	if err != nil {
		return nil, err
	}
	if err := deleteRows(ctx, t.boards, ownerID, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// --- workflows ---

func (t *Tables) CreateWorkflow(ctx context.Context, w domain.Workflow) error {
	payload, err := encodeWorkflow(w)
	if err != nil {
		return err
	}
	if _, err := t.workflows.AddEntity(ctx, payload, nil); err != nil {
		if hasStatus(err, http.StatusConflict) {
			return &domain.ConflictError{Kind: domain.KindWorkflow, Err: err}
		}
		return err
	}
	return nil
}

func (t *Tables) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	data, err := findByRowKey(ctx, t.workflows, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	if data == nil {
		return domain.Workflow{}, domain.NotFound(domain.KindWorkflow, id)
	}
	return decodeWorkflow(data)
}

func (t *Tables) ListWorkflows(ctx context.Context, boardID string) ([]domain.Workflow, error) {
	rows, err := listPartition(ctx, t.workflows, boardID, "")
	if err != nil {
		return nil, err
	}
	workflows := make([]domain.Workflow, 0, len(rows))
	for _, row := range rows {
		w, err := decodeWorkflow(row)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	sort.SliceStable(workflows, func(i, j int) bool { return workflows[i].CreatedAt.Before(workflows[j].CreatedAt) })
	return workflows, nil
}

func (t *Tables) DeleteWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	w, err := t.GetWorkflow(ctx, id)
	if err != nil {
		return domain.Workflow{}, err
	}
	if _, err := t.workflows.DeleteEntity(ctx, w.BoardID, id, nil); err != nil {
		if hasStatus(err, http.StatusNotFound) {
			return domain.Workflow{}, domain.NotFound(domain.KindWorkflow, id)
		}
		return domain.Workflow{}, err
	}
	return w, nil
}

func (t *Tables) DeleteWorkflowsByBoards(ctx context.Context, boardIDs []string) (int, error) {
	n := 0
	for _, boardID := range boardIDs {
		ids, err := rowKeys(ctx, t.workflows, boardID)
		if err != nil {
			return n, err
		}
		if err := deleteRows(ctx, t.workflows, boardID, ids); err != nil {
			return n, err
		}
		n += len(ids)
	}
	return n, nil
}

func (t *Tables) AppendCard(ctx context.Context, workflowID string, card domain.Card) (domain.Workflow, error) {
	return t.mutateCards(ctx, workflowID, func(cards domain.Cards) domain.Cards {
		return cards.Append(card)
	})
}

func (t *Tables) RemoveCard(ctx context.Context, workflowID, cardID string) (domain.Workflow, error) {
	return t.mutateCards(ctx, workflowID, func(cards domain.Cards) domain.Cards {
		out, _ := cards.Remove(cardID)
		return out
	})
}

// mutateCards rewrites the Cards column guarded by the entity ETag, so two
// concurrent card writes on one workflow never lose each other's change.
func (t *Tables) mutateCards(ctx context.Context, workflowID string, fn func(domain.Cards) domain.Cards) (domain.Workflow, error) {
	w, err := t.GetWorkflow(ctx, workflowID)
	if err != nil {
		return domain.Workflow{}, err
	}
	for attempt := 0; attempt < maxCardRetries; attempt++ {
		resp, err := t.workflows.GetEntity(ctx, w.BoardID, workflowID, nil)
		if err != nil {
			if hasStatus(err, http.StatusNotFound) {
				return domain.Workflow{}, domain.NotFound(domain.KindWorkflow, workflowID)
			}
			return domain.Workflow{}, err
		}
		current, err := decodeWorkflow(resp.Value)
		if err != nil {
			return domain.Workflow{}, err
		}
		current.Cards = fn(current.Cards)
		cards, err := encodeCards(current.Cards)
		if err != nil {
			return domain.Workflow{}, err
		}
		payload, err := sonic.Marshal(cardsUpdate{
			Entity: Entity{PartitionKey: w.BoardID, RowKey: workflowID},
			Cards:  cards,
		})
		if err != nil {
			return domain.Workflow{}, err
		}
		etag := resp.ETag
		_, err = t.workflows.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
		switch {
		case err == nil:
			return current, nil
		case hasStatus(err, http.StatusPreconditionFailed):
			continue
		case hasStatus(err, http.StatusNotFound):
			return domain.Workflow{}, domain.NotFound(domain.KindWorkflow, workflowID)
		default:
			return domain.Workflow{}, err
		}
	}
	return domain.Workflow{}, errCardContention
}

// --- helpers ---

func (t *Tables) replaceSettings(ctx context.Context, client tableClient, pk, rk string, settings any) error {
	encoded, err := sonic.MarshalString(settings)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(settingsUpdate{Entity: Entity{PartitionKey: pk, RowKey: rk}, Settings: encoded})
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = client.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return err
}

func hasStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// odataEq builds an equality filter with the value quoted per OData rules.
func odataEq(field, value string) string {
	return field + " eq '" + strings.ReplaceAll(value, "'", "''") + "'"
}

// findByRowKey returns the first row with the given key in any partition,
// or nil when there is none.
func findByRowKey(ctx context.Context, client tableClient, rowKey string) ([]byte, error) {
	filter := odataEq("RowKey", rowKey)
	top := int32(1)
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		if len(resp.Entities) > 0 {
			return resp.Entities[0], nil
		}
	}
	return nil, nil
}

func listPartition(ctx context.Context, client tableClient, pk, sel string) ([][]byte, error) {
	filter := odataEq("PartitionKey", pk)
	opts := &aztables.ListEntitiesOptions{Filter: &filter}
	if sel != "" {
		opts.Select = &sel
	}
	pager := client.NewListEntitiesPager(opts)
	rows := [][]byte{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		rows = append(rows, resp.Entities...)
	}
	return rows, nil
}

func rowKeys(ctx context.Context, client tableClient, pk string) ([]string, error) {
	rows, err := listPartition(ctx, client, pk, "PartitionKey,RowKey")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		var ent Entity
		if err := sonic.Unmarshal(row, &ent); err != nil {
			return nil, err
		}
		ids = append(ids, ent.RowKey)
	}
	return ids, nil
}

// deleteRows removes rows of one partition in entity-group transactions of
// up to 100 operations. When a batch fails, typically because a row is
// already gone, its rows are deleted one by one ignoring 404s.
func deleteRows(ctx context.Context, client tableClient, pk string, rks []string) error {
	for start := 0; start < len(rks); start += maxBatchSize {
		end := min(start+maxBatchSize, len(rks))
		chunk := rks[start:end]
		actions := make([]aztables.TransactionAction, 0, len(chunk))
		for _, rk := range chunk {
			payload, err := sonic.Marshal(Entity{PartitionKey: pk, RowKey: rk})
			if err != nil {
				return err
			}
			actions = append(actions, aztables.TransactionAction{ActionType: aztables.TransactionTypeDelete, Entity: payload})
		}
		if _, err := client.SubmitTransaction(ctx, actions, nil); err == nil {
			continue
		}
		for _, rk := range chunk {
			if _, err := client.DeleteEntity(ctx, pk, rk, nil); err != nil && !hasStatus(err, http.StatusNotFound) {
				return err
			}
		}
	}
	return nil
}
