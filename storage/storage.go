// Package storage is the Azure-backed implementation of the board's remote
// persistence API: orders, runs and trucks live in Table Storage partitioned
// by site, committed scheduling decisions feed a queue for downstream ERP
// consumers, and change signals for other sessions go out over redis.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"dispatch-board/domain"
	"dispatch-board/syncer"
)

// UpdatesChannel is the redis pub/sub topic carrying "scheduling data
// changed" signals between sessions.
const UpdatesChannel = "board-updates"

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides access to the underlying persistence mechanisms. It
// implements syncer.Remote.
type Storage struct {
	ordersTable *aztables.Client
	runsTable   *aztables.Client
	trucksTable *aztables.Client

	events *Publisher    // optional schedule-event feed
	redis  *redis.Client // optional change-signal publisher
}

// New creates a Storage instance from the given connection string.
func New(connStr, ordersTable, runsTable, trucksTable string) (*Storage, error) {
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
	return &Storage{
		ordersTable: svc.NewClient(ordersTable),
		runsTable:   svc.NewClient(runsTable),
		trucksTable: svc.NewClient(trucksTable),
	}, nil
}

// NewEventQueue builds the azqueue client for the schedule-event feed with
// the retry profile used for all queue traffic.
func NewEventQueue(connStr, queueName string) (*azqueue.QueueClient, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
}

// SetEventPublisher attaches the downstream schedule-event feed.
func (s *Storage) SetEventPublisher(p *Publisher) { s.events = p }

// SetChangeSignal attaches the redis client used to signal other sessions.
func (s *Storage) SetChangeSignal(rc *redis.Client) { s.redis = rc }

type orderEntity struct {
	aztables.Entity
	OrderType     string `json:"OrderType"`
	DisplayNumber string `json:"DisplayNumber"`
	PartyCode     string `json:"PartyCode"`
	Quantity      string `json:"Quantity"`
	Status        string `json:"Status"`
	ReadOnly      bool   `json:"ReadOnly"`
	Notes         string `json:"Notes"`
	Date          string `json:"Date"` // "" while unscheduled
	Resource      string `json:"Resource"`
	RunID         string `json:"RunId"`
}

type runEntity struct {
	aztables.Entity
	Name     string `json:"Name"`
	Notes    string `json:"Notes"`
	Resource string `json:"Resource"`
	Date     string `json:"Date"`
	Sequence string `json:"Sequence"` // JSON array of order IDs
}

type truckEntity struct {
	aztables.Entity
	Name     string `json:"Name"`
	Position int    `json:"Position"`
}

func decodeOrderEntity(data []byte) (domain.Order, string, string, error) {
	var ent orderEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Order{}, "", "", err
	}
	o := domain.Order{
		ID:            ent.RowKey,
		Type:          domain.OrderType(ent.OrderType),
		DisplayNumber: ent.DisplayNumber,
		PartyCode:     ent.PartyCode,
		Status:        ent.Status,
		ReadOnly:      ent.ReadOnly,
		Notes:         ent.Notes,
	}
	if ent.Quantity != "" {
		qty, err := decimal.NewFromString(ent.Quantity)
		if err != nil {
			return domain.Order{}, "", "", fmt.Errorf("order %s quantity: %w", ent.RowKey, err)
		}
		o.Quantity = qty
	}
	if ent.Date != "" {
		d, err := domain.ParseDate(ent.Date)
		if err != nil {
			return domain.Order{}, "", "", fmt.Errorf("order %s: %w", ent.RowKey, err)
		}
		o.Date = &d
	}
	return o, ent.Resource, ent.RunID, nil
}

func decodeRunEntity(data []byte) (domain.Run, domain.CellKey, error) {
	var ent runEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Run{}, domain.CellKey{}, err
	}
	run := domain.Run{ID: ent.RowKey, Name: ent.Name, Notes: ent.Notes, OrderIDs: []string{}}
	if ent.Sequence != "" {
		if err := json.Unmarshal([]byte(ent.Sequence), &run.OrderIDs); err != nil {
			return domain.Run{}, domain.CellKey{}, fmt.Errorf("run %s sequence: %w", ent.RowKey, err)
		}
	}
	d, err := domain.ParseDate(ent.Date)
	if err != nil {
		return domain.Run{}, domain.CellKey{}, fmt.Errorf("run %s: %w", ent.RowKey, err)
	}
	return run, domain.CellKey{Resource: ent.Resource, Date: d}, nil
}

// windowRow pairs a decoded order with its placement columns.
type windowRow struct {
	order    domain.Order
	resource string
	runID    string
}

// assembleWindow groups fetched rows into the sparse cell grid. Loose
// orders land in their cell's loose set; run membership and ordering come
// from the run rows' sequences.
func assembleWindow(rows []windowRow, runs []domain.Run, runCells []domain.CellKey) syncer.Window {
	win := syncer.Window{Runs: runs}
	cells := map[domain.CellKey]*domain.CellSnapshot{}
	cellOf := func(key domain.CellKey) *domain.CellSnapshot {
		if c, ok := cells[key]; ok {
			return c
		}
		c := &domain.CellSnapshot{Resource: key.Resource, Date: key.Date}
		cells[key] = c
		return c
	}
	for i, run := range runs {
		c := cellOf(runCells[i])
		c.RunIDs = append(c.RunIDs, run.ID)
	}
	for _, row := range rows {
		win.Orders = append(win.Orders, row.order)
		if row.order.Date == nil || row.runID != "" {
			continue
		}
		c := cellOf(domain.CellKey{Resource: row.resource, Date: *row.order.Date})
		c.LooseOrderIDs = append(c.LooseOrderIDs, row.order.ID)
	}
	for _, c := range cells {
		win.Cells = append(win.Cells, *c)
	}
	sort.Slice(win.Cells, func(i, j int) bool {
		a, b := win.Cells[i], win.Cells[j]
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		return a.Date.Before(b.Date)
	})
	return win
}

// FetchWindow retrieves the orders and runs scheduled in [from, to] for the
// site and assembles the sparse cell grid.
func (s *Storage) FetchWindow(ctx context.Context, site string, from, to domain.Date) (syncer.Window, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and Date ge '%s' and Date le '%s'", site, from, to)
	var rows []windowRow
	pager := s.ordersTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return syncer.Window{}, err
		}
		for _, e := range resp.Entities {
			o, resource, runID, err := decodeOrderEntity(e)
			if err != nil {
				return syncer.Window{}, err
			}
			rows = append(rows, windowRow{order: o, resource: resource, runID: runID})
		}
	}

	var runs []domain.Run
	var runCells []domain.CellKey
	runPager := s.runsTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for runPager.More() {
		resp, err := runPager.NextPage(ctx)
		if err != nil {
			return syncer.Window{}, err
		}
		for _, e := range resp.Entities {
			run, cell, err := decodeRunEntity(e)
			if err != nil {
				return syncer.Window{}, err
			}
			runs = append(runs, run)
			runCells = append(runCells, cell)
		}
	}
	return assembleWindow(rows, runs, runCells), nil
}

// FetchUnscheduled retrieves the site's unscheduled-order pool.
func (s *Storage) FetchUnscheduled(ctx context.Context, site string) ([]domain.Order, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s' and Date eq ''", site)
	pager := s.ordersTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	orders := []domain.Order{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			o, _, _, err := decodeOrderEntity(e)
			if err != nil {
				return nil, err
			}
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// FetchTrucks retrieves the site's resource rows in board order.
func (s *Storage) FetchTrucks(ctx context.Context, site string) ([]string, error) {
	filter := fmt.Sprintf("PartitionKey eq '%s'", site)
	pager := s.trucksTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var trucks []truckEntity
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent truckEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			trucks = append(trucks, ent)
		}
	}
	sort.Slice(trucks, func(i, j int) bool { return trucks[i].Position < trucks[j].Position })
	ids := make([]string, 0, len(trucks))
	for _, tr := range trucks {
		ids = append(ids, tr.RowKey)
	}
	return ids, nil
}

// UpdateSchedule is the idempotent upsert of one order's scheduling
// assignment. On success it feeds the downstream event queue and signals
// other sessions over redis; neither side channel affects the result.
func (s *Storage) UpdateSchedule(ctx context.Context, site string, upd syncer.ScheduleUpdate) error {
	ent := orderEntity{
		Entity:    aztables.Entity{PartitionKey: site, RowKey: upd.OrderID},
		OrderType: string(upd.OrderType),
		Resource:  upd.Resource,
		RunID:     upd.RunID,
	}
	if upd.Date != nil {
		ent.Date = upd.Date.String()
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.ordersTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return err
	}
	if s.events != nil {
		s.events.Publish(ScheduleEvent{
			Site:      site,
			OrderID:   upd.OrderID,
			OrderType: string(upd.OrderType),
			Date:      ent.Date,
			Resource:  upd.Resource,
			RunID:     upd.RunID,
			Timestamp: time.Now().UnixNano(),
		})
	}
	s.signalChange(ctx, site)
	return nil
}

// SaveRun persists a run row anchored to its cell.
func (s *Storage) SaveRun(ctx context.Context, site string, run domain.Run, cell domain.CellKey) error {
	seq, err := json.Marshal(run.OrderIDs)
	if err != nil {
		return err
	}
	ent := runEntity{
		Entity:   aztables.Entity{PartitionKey: site, RowKey: run.ID},
		Name:     run.Name,
		Notes:    run.Notes,
		Resource: cell.Resource,
		Date:     cell.Date.String(),
		Sequence: string(seq),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.runsTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil {
		return err
	}
	s.signalChange(ctx, site)
	return nil
}

// SaveRunSequence merges only the run's sequence column.
func (s *Storage) SaveRunSequence(ctx context.Context, site string, run domain.Run) error {
	seq, err := json.Marshal(run.OrderIDs)
	if err != nil {
		return err
	}
	ent := struct {
		aztables.Entity
		Sequence string `json:"Sequence"`
	}{
		Entity:   aztables.Entity{PartitionKey: site, RowKey: run.ID},
		Sequence: string(seq),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.runsTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeMerge})
	return err
}

// DeleteRuns removes swept run rows. Rows already gone are not an error.
func (s *Storage) DeleteRuns(ctx context.Context, site string, runIDs []string) error {
	for _, id := range runIDs {
		if _, err := s.runsTable.DeleteEntity(ctx, site, id, nil); err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && respErr.StatusCode == 404 {
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Storage) signalChange(ctx context.Context, site string) {
	if s.redis == nil {
		return
	}
	payload, err := json.Marshal(struct {
		Site string `json:"site"`
	}{Site: site})
	if err != nil {
		return
	}
	if err := s.redis.Publish(ctx, UpdatesChannel, payload).Err(); err != nil {
		log.WithFields(log.Fields{"site": site, "err": err}).Warn("change signal publish failed")
	}
}
