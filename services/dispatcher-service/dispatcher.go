package main

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"civic-issue-tracker/pkg/events"
	"civic-issue-tracker/services/report-service/lifecycle"
	"civic-issue-tracker/services/report-service/models"
)

type assigner interface {
	GetReport(ctx context.Context, id int64) (*models.Report, error)
	AssignDepartment(ctx context.Context, id, departmentID int64, notes string, actorID int64) (*models.Report, error)
}

// Dispatcher routes newly created reports to a department.
type Dispatcher struct {
	engine assigner
	dir    departmentLookup
	logger *zap.Logger
}

func NewDispatcher(engine assigner, dir departmentLookup, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{engine: engine, dir: dir, logger: logger}
}

// Handle routes one report.created event. It returns true when the message
// should be redelivered.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) (requeue bool) {
	var ev events.LifecycleEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		d.logger.Warn("dropping malformed event", zap.Error(err))
		return false
	}
	if ev.Action != events.KeyReportCreated || ev.ReportID == nil {
		return false
	}
	reportID := *ev.ReportID
	log := d.logger.With(zap.Int64("report_id", reportID), zap.String("category", ev.Category))

	report, err := d.engine.GetReport(ctx, reportID)
	if err != nil {
		if lifecycle.KindOf(err) == lifecycle.KindNotFound {
			log.Warn("report vanished before routing")
			return false
		}
		log.Error("report lookup failed", zap.Error(err))
		return true
	}
	// Redeliveries and manual routing must not override an existing choice.
	if report.DepartmentID != nil {
		log.Debug("report already routed")
		return false
	}

	dept, err := resolveDepartment(ctx, d.dir, ev.Category)
	if err != nil {
		log.Error("department lookup failed", zap.Error(err))
		return true
	}

	notes := "auto-routed from category " + ev.Category
	_, err = d.engine.AssignDepartment(ctx, reportID, dept.ID, notes, lifecycle.SystemActor)
	switch lifecycle.KindOf(err) {
	case "":
		log.Info("report routed", zap.String("department", dept.Code))
		return false
	case lifecycle.KindStorage, lifecycle.KindConflict:
		log.Warn("routing failed, will retry", zap.Error(err))
		return true
	default:
		// An operator got there first or the report no longer exists.
		log.Info("report not routed", zap.Error(err), zap.Any("details", lifecycle.DetailsOf(err)))
		return false
	}
}

// Consume handles deliveries until msgs closes or ctx is done.
func (d *Dispatcher) Consume(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				d.logger.Warn("delivery channel closed")
				return
			}
			if d.Handle(ctx, msg.Body) {
				if err := msg.Nack(false, !msg.Redelivered); err != nil {
					d.logger.Error("nack failed", zap.Error(err))
				}
				continue
			}
			if err := msg.Ack(false); err != nil {
				d.logger.Error("ack failed", zap.Error(err))
			}
		}
	}
}
