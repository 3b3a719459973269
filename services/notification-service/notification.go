package main

import (
	"fmt"
	"strings"
	"time"

	"civic-issue-tracker/pkg/events"
	"civic-issue-tracker/pkg/identity"
)

// Notification is what a subscribed browser receives.
type Notification struct {
	ID           string    `json:"id"`
	ReportID     int64     `json:"report_id,omitempty"`
	ReportNumber string    `json:"report_number,omitempty"`
	Type         string    `json:"type"`
	Action       string    `json:"action"`
	Message      string    `json:"message"`
	Status       string    `json:"status,omitempty"`
	Category     string    `json:"category,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type Client struct {
	UserID     int64
	Role       string
	Department string
	Send       chan Notification
}

func normalizeDepartment(department string) string {
	d := strings.ToLower(strings.TrimSpace(department))
	d = strings.ReplaceAll(d, "-", "_")
	d = strings.ReplaceAll(d, " ", "_")
	return d
}

// departmentCategories lists the report categories a department dashboard
// follows. Nil means no restriction.
func departmentCategories(department string) []string {
	switch normalizeDepartment(department) {
	case "", "general":
		return nil
	case "kebersihan":
		return []string{"sampah", "kebersihan"}
	case "pekerjaan_umum", "pu":
		return []string{"jalan", "jalan rusak", "drainase", "fasilitas umum"}
	case "penerangan", "penerangan_jalan":
		return []string{"lampu jalan", "penerangan"}
	case "lingkungan_hidup", "lingkungan":
		return []string{"polusi", "lingkungan"}
	case "perhubungan":
		return []string{"lalu lintas", "transportasi", "traffic & transport"}
	case "ketertiban":
		return []string{"keamanan", "ketertiban umum"}
	}
	return []string{}
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// wants decides whether ev is delivered to c. Citizens follow their own
// reports, officers follow reports assigned to them and admins see
// everything their department covers.
func (c *Client) wants(ev events.LifecycleEvent) bool {
	switch c.Role {
	case identity.RoleAdmin:
		if ev.Category == "" {
			return true
		}
		allowed := departmentCategories(c.Department)
		return allowed == nil || containsString(allowed, strings.ToLower(ev.Category))
	case identity.RoleOfficer:
		return ev.OfficerID != nil && *ev.OfficerID == c.UserID
	default:
		if ev.ReporterID != c.UserID {
			return false
		}
		return ev.StatusChanged() || ev.Domain() == "appeal"
	}
}

func toNotification(ev events.LifecycleEvent) Notification {
	n := Notification{
		ID:           ev.ID,
		ReportNumber: ev.ReportNumber,
		Type:         notificationType(ev),
		Action:       ev.Action,
		Status:       ev.ToStatus,
		Category:     ev.Category,
		CreatedAt:    ev.OccurredAt,
	}
	if ev.ReportID != nil {
		n.ReportID = *ev.ReportID
	}

	ref := ev.ReportNumber
	if ref == "" {
		ref = fmt.Sprintf("#%d", n.ReportID)
	}
	switch {
	case ev.Action == events.KeyReportCreated:
		n.Message = fmt.Sprintf("New report %s received", ref)
	case ev.StatusChanged():
		n.Message = fmt.Sprintf("Report %s is now %s", ref, ev.ToStatus)
	default:
		_, verb, _ := strings.Cut(ev.Action, ".")
		n.Message = fmt.Sprintf("Report %s: %s %s", ref, ev.Domain(), strings.ReplaceAll(verb, "_", " "))
	}
	return n
}

func notificationType(ev events.LifecycleEvent) string {
	switch {
	case ev.Action == events.KeyReportCreated:
		return "new_report"
	case ev.Domain() == "appeal":
		return "appeal"
	case ev.Domain() == "escalation":
		return "escalation"
	case ev.StatusChanged():
		return "status_update"
	}
	return "report_update"
}
