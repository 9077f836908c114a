package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/telemetry"
)

// Tables maps each collection onto its table name.
type Tables map[domain.Collection]string

// Store is the remote document store. Every collection is one table, every
// document one entity in a shared partition whose Data column holds the JSON
// projection of the document.
type Store struct {
	tables    map[domain.Collection]*aztables.Client
	partition string
	metrics   *telemetry.Metrics
}

// New creates a Store from the given connection string.
func New(connStr string, tables Tables, partition string) (*Store, error) {
	if partition == "" {
		return nil, errors.New("storage: partition is required")
	}
	tablesClientOptions := aztables.ClientOptions{
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
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Store{
		tables:    make(map[domain.Collection]*aztables.Client, len(tables)),
		partition: partition,
		metrics:   telemetry.NewMetrics(),
	}
	for coll, name := range tables {
		if name == "" {
			return nil, fmt.Errorf("storage: no table configured for %s", coll)
		}
		s.tables[coll] = svc.NewClient(name)
	}
	return s, nil
}

type documentEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Data         string `json:"Data"`
}

func (s *Store) table(coll domain.Collection) (*aztables.Client, error) {
	t, ok := s.tables[coll]
	if !ok {
		return nil, fmt.Errorf("storage: unknown collection %s", coll)
	}
	return t, nil
}

func (s *Store) encode(id string, doc domain.Document) ([]byte, error) {
	body := doc.Clone()
	body["id"] = id
	data, err := sonic.Marshal(body)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(documentEntity{PartitionKey: s.partition, RowKey: id, Data: string(data)})
}

func decodeEntity(raw []byte) (domain.Document, error) {
	var ent documentEntity
	if err := sonic.Unmarshal(raw, &ent); err != nil {
		return nil, err
	}
	doc := domain.Document{}
	if ent.Data != "" {
		if err := sonic.UnmarshalString(ent.Data, &doc); err != nil {
			return nil, err
		}
	}
	doc["id"] = ent.RowKey
	return doc, nil
}

// mapError translates table service status codes onto domain errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, respErr.ErrorCode)
		case http.StatusConflict, http.StatusPreconditionFailed:
			return fmt.Errorf("%w: %s", domain.ErrConflict, respErr.ErrorCode)
		}
	}
	return err
}

func (s *Store) observe(ctx context.Context, coll domain.Collection, op string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "store."+op)
	span.SetAttributes(attribute.String("collection", string(coll)))
	return ctx, func(err error) {
		s.metrics.StoreOps.WithLabelValues(string(coll), op, telemetry.Result(err)).Inc()
		s.metrics.StoreDuration.WithLabelValues(string(coll), op).Observe(time.Since(start).Seconds())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// Insert stores doc under a new id and returns it. The id is also written
// into the document's id field.
func (s *Store) Insert(ctx context.Context, coll domain.Collection, doc domain.Document) (id string, err error) {
	ctx, done := s.observe(ctx, coll, "insert")
	defer func() { done(err) }()

	t, err := s.table(coll)
	if err != nil {
		return "", err
	}
	id = uuid.NewString()
	payload, err := s.encode(id, doc)
	if err != nil {
		return "", err
	}
	if _, err = t.AddEntity(ctx, payload, nil); err != nil {
		return "", mapError(err)
	}
	return id, nil
}

// Put creates or replaces the document with the given id.
func (s *Store) Put(ctx context.Context, coll domain.Collection, id string, doc domain.Document) (err error) {
	ctx, done := s.observe(ctx, coll, "put")
	defer func() { done(err) }()

	t, err := s.table(coll)
	if err != nil {
		return err
	}
	payload, err := s.encode(id, doc)
	if err != nil {
		return err
	}
	_, err = t.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return mapError(err)
}

// Update replaces an existing document. It fails with domain.ErrNotFound when
// the document does not exist.
func (s *Store) Update(ctx context.Context, coll domain.Collection, id string, doc domain.Document) (err error) {
	ctx, done := s.observe(ctx, coll, "update")
	defer func() { done(err) }()

	t, err := s.table(coll)
	if err != nil {
		return err
	}
	payload, err := s.encode(id, doc)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = t.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace})
	return mapError(err)
}

// Delete removes the document with the given id.
func (s *Store) Delete(ctx context.Context, coll domain.Collection, id string) (err error) {
	ctx, done := s.observe(ctx, coll, "delete")
	defer func() { done(err) }()

	t, err := s.table(coll)
	if err != nil {
		return err
	}
	_, err = t.DeleteEntity(ctx, s.partition, id, nil)
	return mapError(err)
}

// Get loads a single document.
func (s *Store) Get(ctx context.Context, coll domain.Collection, id string) (doc domain.Document, err error) {
	ctx, done := s.observe(ctx, coll, "get")
	defer func() { done(err) }()

	t, err := s.table(coll)
	if err != nil {
		return nil, err
	}
	resp, err := t.GetEntity(ctx, s.partition, id, nil)
	if err != nil {
		return nil, mapError(err)
	}
	return decodeEntity(resp.Value)
}

// List loads every document of the collection.
func (s *Store) List(ctx context.Context, coll domain.Collection) (docs []domain.Document, err error) {
	ctx, done := s.observe(ctx, coll, "list")
	defer func() { done(err) }()

	t, err := s.table(coll)
	if err != nil {
		return nil, err
	}
	filter := "PartitionKey eq '" + s.partition + "'"
	pager := t.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	docs = []domain.Document{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, e := range resp.Entities {
			doc, err := decodeEntity(e)
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}
