package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"focusflow-api/domain"
)

const (
	edmInt64       = "Edm.Int64"
	odataType      = "@odata.type"
	listSuffix     = "_list"
	maxETagRetries = 5
)

// tableAPI is the slice of the table client the adapter uses.
type tableAPI interface {
	insert(ctx context.Context, entity []byte) error
	upsert(ctx context.Context, entity []byte) error
	get(ctx context.Context, pk, rk string) ([]byte, azcore.ETag, error)
	replace(ctx context.Context, entity []byte, etag azcore.ETag) error
	// query returns every entity of the partition, optionally narrowed to
	// field eq value.
	query(ctx context.Context, pk string, match *fieldMatch) ([][]byte, error)
}

type fieldMatch struct {
	field string
	value string
}

// Tables stores documents in Azure Table Storage, one table per root
// collection. The partition key is the escaped key of the parent collection,
// so every collection is one partition.
type Tables struct {
	tables map[string]tableAPI
}

func tablesRetryOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTables connects to the account and binds one table client per root
// collection. Table names are prefix + root.
func NewTables(connStr, prefix string) (*Tables, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, tablesRetryOptions())
	if err != nil {
		return nil, err
	}
	t := &Tables{tables: map[string]tableAPI{}}
	for _, root := range []string{domain.ProjectsCollection, domain.TasksCollection} {
		t.tables[root] = azTable{c: svc.NewClient(prefix + root)}
	}
	return t, nil
}

func newTablesWith(tables map[string]tableAPI) *Tables {
	return &Tables{tables: tables}
}

func (t *Tables) table(p domain.Path) (tableAPI, error) {
	tbl, ok := t.tables[p.Root()]
	if !ok {
		return nil, fmt.Errorf("%w: unknown root collection %q", domain.ErrValidation, p.Root())
	}
	return tbl, nil
}

func entityKeys(p domain.Path) (pk, rk string) {
	return p.Parent().Key(), domain.EscapeSegment(p.ID())
}

func (t *Tables) Put(ctx context.Context, p domain.Path, f domain.Fields) error {
	if err := checkDocPath(p); err != nil {
		return err
	}
	tbl, err := t.table(p)
	if err != nil {
		return err
	}
	data, err := encodeEntity(p, f)
	if err != nil {
		return err
	}
	return classifyTableErr(tbl.upsert(ctx, data))
}

func (t *Tables) Create(ctx context.Context, p domain.Path, f domain.Fields) error {
	if err := checkDocPath(p); err != nil {
		return err
	}
	tbl, err := t.table(p)
	if err != nil {
		return err
	}
	data, err := encodeEntity(p, f)
	if err != nil {
		return err
	}
	if err := tbl.insert(ctx, data); err != nil {
		if statusOf(err) == http.StatusConflict {
			return fmt.Errorf("%s: %w", p, domain.ErrAlreadyExists)
		}
		return classifyTableErr(err)
	}
	return nil
}

func (t *Tables) Get(ctx context.Context, p domain.Path) (domain.Document, bool, error) {
	doc, _, found, err := t.read(ctx, p)
	return doc, found, err
}

func (t *Tables) read(ctx context.Context, p domain.Path) (domain.Document, azcore.ETag, bool, error) {
	if err := checkDocPath(p); err != nil {
		return domain.Document{}, "", false, err
	}
	tbl, err := t.table(p)
	if err != nil {
		return domain.Document{}, "", false, err
	}
	pk, rk := entityKeys(p)
	data, etag, err := tbl.get(ctx, pk, rk)
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return domain.Document{}, "", false, nil
		}
		return domain.Document{}, "", false, classifyTableErr(err)
	}
	f, err := decodeEntity(data)
	if err != nil {
		return domain.Document{}, "", false, err
	}
	return domain.Document{Path: append(domain.Path(nil), p...), Fields: f}, etag, true, nil
}

func (t *Tables) scan(ctx context.Context, p domain.Path, match *fieldMatch, keep func(domain.Fields) bool) ([]domain.Document, error) {
	if err := checkCollectionPath(p); err != nil {
		return nil, err
	}
	tbl, err := t.table(p)
	if err != nil {
		return nil, err
	}
	rows, err := tbl.query(ctx, p.Key(), match)
	if err != nil {
		return nil, classifyTableErr(err)
	}
	out := []domain.Document{}
	for _, row := range rows {
		rk, f, err := decodeRow(row)
		if err != nil {
			return nil, err
		}
		if keep != nil && !keep(f) {
			continue
		}
		id, err := domain.ParseKey(rk)
		if err != nil || len(id) != 1 {
			return nil, fmt.Errorf("decode row key %q: %w", rk, err)
		}
		out = append(out, domain.Document{Path: p.Doc(id[0]), Fields: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (t *Tables) List(ctx context.Context, p domain.Path) ([]domain.Document, error) {
	return t.scan(ctx, p, nil, nil)
}

func (t *Tables) QueryByEquality(ctx context.Context, p domain.Path, field, value string) ([]domain.Document, error) {
	return t.scan(ctx, p, &fieldMatch{field: field, value: value}, nil)
}

// QueryByArrayMembership scans the partition: table filters cannot look
// inside the JSON encoded list.
func (t *Tables) QueryByArrayMembership(ctx context.Context, p domain.Path, field, value string) ([]domain.Document, error) {
	return t.scan(ctx, p, nil, func(f domain.Fields) bool {
		for _, v := range f.StringsField(field) {
			if v == value {
				return true
			}
		}
		return false
	})
}

// modify runs a read, mutate, conditional replace cycle guarded by the ETag,
// re-reading on 412 until the write lands.
func (t *Tables) modify(ctx context.Context, p domain.Path, mutate func(domain.Fields) error) (domain.Document, error) {
	tbl, err := t.table(p)
	if err != nil {
		return domain.Document{}, err
	}
	for attempt := 0; attempt < maxETagRetries; attempt++ {
		doc, etag, found, err := t.read(ctx, p)
		if err != nil {
			return domain.Document{}, err
		}
		if !found {
			return domain.Document{}, fmt.Errorf("%s: %w", p, domain.ErrNotFound)
		}
		if err := mutate(doc.Fields); err != nil {
			return domain.Document{}, err
		}
		data, err := encodeEntity(p, doc.Fields)
		if err != nil {
			return domain.Document{}, err
		}
		err = tbl.replace(ctx, data, etag)
		switch statusOf(err) {
		case 0:
			if err != nil {
				return domain.Document{}, classifyTableErr(err)
			}
			return doc, nil
		case http.StatusPreconditionFailed:
			continue
		case http.StatusNotFound:
			return domain.Document{}, fmt.Errorf("%s: %w", p, domain.ErrNotFound)
		default:
			return domain.Document{}, classifyTableErr(err)
		}
	}
	return domain.Document{}, domain.Unavailable(fmt.Errorf("%s: %w", p, domain.ErrConcurrencyConflict))
}

func (t *Tables) UpdateIf(ctx context.Context, p domain.Path, cond domain.Condition, f domain.Fields) (domain.Document, error) {
	if err := checkDocPath(p); err != nil {
		return domain.Document{}, err
	}
	return t.modify(ctx, p, func(stored domain.Fields) error {
		if !cond.Matches(stored) {
			return fmt.Errorf("%s: %w", p, domain.ErrPreconditionFailed)
		}
		for k, v := range f {
			stored[k] = v
		}
		return nil
	})
}

func (t *Tables) AddToSet(ctx context.Context, p domain.Path, field string, values []string) (domain.Document, error) {
	if err := checkDocPath(p); err != nil {
		return domain.Document{}, err
	}
	return t.modify(ctx, p, func(stored domain.Fields) error {
		stored[field] = union(stored.StringsField(field), values)
		return nil
	})
}

// encodeEntity flattens fields into a table entity. Lists become JSON strings
// under <field>_list and integers are annotated as Edm.Int64.
func encodeEntity(p domain.Path, f domain.Fields) ([]byte, error) {
	pk, rk := entityKeys(p)
	ent := map[string]any{"PartitionKey": pk, "RowKey": rk}
	for k, v := range f {
		switch val := v.(type) {
		case string:
			ent[k] = val
		case int:
			ent[k] = strconv.FormatInt(int64(val), 10)
			ent[k+odataType] = edmInt64
		case int64:
			ent[k] = strconv.FormatInt(val, 10)
			ent[k+odataType] = edmInt64
		case []string:
			list, err := sonic.MarshalString(val)
			if err != nil {
				return nil, err
			}
			ent[k+listSuffix] = list
		default:
			return nil, fmt.Errorf("%w: field %q has unsupported type %T", domain.ErrValidation, k, v)
		}
	}
	return sonic.Marshal(ent)
}

func decodeRow(data []byte) (string, domain.Fields, error) {
	var raw map[string]any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return "", nil, err
	}
	rk, _ := raw["RowKey"].(string)
	f, err := fieldsFromRaw(raw)
	return rk, f, err
}

func decodeEntity(data []byte) (domain.Fields, error) {
	_, f, err := decodeRow(data)
	return f, err
}

func fieldsFromRaw(raw map[string]any) (domain.Fields, error) {
	f := domain.Fields{}
	for k, v := range raw {
		switch {
		case k == "PartitionKey" || k == "RowKey" || k == "Timestamp":
			continue
		case strings.HasPrefix(k, "odata."), strings.HasSuffix(k, odataType):
			continue
		case strings.HasSuffix(k, listSuffix):
			s, _ := v.(string)
			var list []string
			if err := sonic.UnmarshalString(s, &list); err != nil {
				return nil, fmt.Errorf("decode %s: %w", k, err)
			}
			f[strings.TrimSuffix(k, listSuffix)] = list
		case raw[k+odataType] == edmInt64:
			s, _ := v.(string)
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", k, err)
			}
			f[k] = n
		default:
			f[k] = v
		}
	}
	return f, nil
}

// odataQuote renders a string literal for an OData filter.
func odataQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func buildFilter(pk string, match *fieldMatch) string {
	filter := "PartitionKey eq " + odataQuote(pk)
	if match != nil {
		filter += " and " + match.field + " eq " + odataQuote(match.value)
	}
	return filter
}

func statusOf(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

// classifyTableErr marks transport failures, throttling and 5xx as
// ErrStorageUnavailable.
func classifyTableErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	status := statusOf(err)
	if status == 0 || status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return domain.Unavailable(err)
	}
	return err
}

// azTable adapts *aztables.Client to tableAPI.
type azTable struct {
	c *aztables.Client
}

func (a azTable) insert(ctx context.Context, entity []byte) error {
	_, err := a.c.AddEntity(ctx, entity, nil)
	return err
}

func (a azTable) upsert(ctx context.Context, entity []byte) error {
	_, err := a.c.UpsertEntity(ctx, entity, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (a azTable) get(ctx context.Context, pk, rk string) ([]byte, azcore.ETag, error) {
	resp, err := a.c.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		return nil, "", err
	}
	return resp.Value, resp.ETag, nil
}

func (a azTable) replace(ctx context.Context, entity []byte, etag azcore.ETag) error {
	_, err := a.c.UpdateEntity(ctx, entity, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (a azTable) query(ctx context.Context, pk string, match *fieldMatch) ([][]byte, error) {
	filter := buildFilter(pk, match)
	pager := a.c.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
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
