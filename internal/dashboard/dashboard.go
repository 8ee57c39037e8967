package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Every record below is demo data. The providers exist so the UI has a
// stable contract to render against; nothing here is computed from real
// attendance events.

type SubjectAttendance struct {
	Name       string `json:"name"`
	Percentage int    `json:"percentage"`
	Present    int    `json:"present"`
	Total      int    `json:"total"`
	Status     string `json:"status"`
}

type StudentStats struct {
	Overall  int                 `json:"overall"`
	Present  int                 `json:"present"`
	Absent   int                 `json:"absent"`
	Late     int                 `json:"late"`
	Subjects []SubjectAttendance `json:"subjects"`
}

type ClassSession struct {
	ID              string `json:"id"`
	Subject         string `json:"subject"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	StudentsPresent int    `json:"studentsPresent"`
	TotalStudents   int    `json:"totalStudents"`
	QRGenerated     bool   `json:"qrGenerated"`
	Status          string `json:"status"`
}

type StudentAttendance struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	StudentID    string  `json:"studentId"`
	Status       string  `json:"status"`
	Timestamp    *string `json:"timestamp,omitempty"`
	FaceVerified bool    `json:"faceVerified"`
	Location     *string `json:"location,omitempty"`
}

type FacultyOverview struct {
	TodayClasses   []ClassSession      `json:"todayClasses"`
	LiveAttendance []StudentAttendance `json:"liveAttendance"`
}

type QRCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Provider struct {
	redis *redis.Client
	qrTTL time.Duration
}

func NewProvider(redisClient *redis.Client, qrTTL time.Duration) *Provider {
	if qrTTL <= 0 {
		qrTTL = 5 * time.Minute
	}
	return &Provider{redis: redisClient, qrTTL: qrTTL}
}

func (p *Provider) StudentStats() StudentStats {
	return StudentStats{
		Overall: 85,
		Present: 68,
		Absent:  8,
		Late:    4,
		Subjects: []SubjectAttendance{
			subject("Data Structures", 23, 25),
			subject("Database Systems", 22, 25),
			subject("Software Engineering", 19, 25),
			subject("Computer Networks", 17, 25),
		},
	}
}

func (p *Provider) FacultyOverview() FacultyOverview {
	room := "Room 203"
	t1, t2, t3 := "11:05 AM", "11:03 AM", "11:12 AM"
	return FacultyOverview{
		TodayClasses: []ClassSession{
			{ID: "1", Subject: "Data Structures", Date: "2024-01-15", Time: "09:00 AM", StudentsPresent: 28, TotalStudents: 32, QRGenerated: true, Status: "completed"},
			{ID: "2", Subject: "Database Systems", Date: "2024-01-15", Time: "11:00 AM", StudentsPresent: 15, TotalStudents: 30, QRGenerated: true, Status: "active"},
			{ID: "3", Subject: "Software Engineering", Date: "2024-01-15", Time: "02:00 PM", StudentsPresent: 0, TotalStudents: 25, QRGenerated: false, Status: "upcoming"},
		},
		LiveAttendance: []StudentAttendance{
			{ID: "1", Name: "Alice Johnson", StudentID: "CS2024001", Status: "present", Timestamp: &t1, FaceVerified: true, Location: &room},
			{ID: "2", Name: "Bob Smith", StudentID: "CS2024002", Status: "present", Timestamp: &t2, FaceVerified: true, Location: &room},
			{ID: "3", Name: "Carol Davis", StudentID: "CS2024003", Status: "late", Timestamp: &t3, FaceVerified: true, Location: &room},
			{ID: "4", Name: "David Wilson", StudentID: "CS2024004", Status: "absent"},
		},
	}
}

// IssueQRCode mints a fresh attendance code for a class. When redis is
// configured the code is stored under a TTL'd key so a later scan can
// be checked against the active code; re-issuing rotates it.
func (p *Provider) IssueQRCode(ctx context.Context, classID string) (QRCode, error) {
	code := fmt.Sprintf("QR_%s_%s", classID, uuid.NewString())
	expiresAt := time.Now().UTC().Add(p.qrTTL)

	if p.redis != nil {
		if err := p.redis.Set(ctx, qrCodeKey(classID), code, p.qrTTL).Err(); err != nil {
			return QRCode{}, err
		}
	}
	return QRCode{Code: code, ExpiresAt: expiresAt}, nil
}

// ActiveQRCode returns the current code for a class, or ok=false when
// none is active or redis is not configured.
func (p *Provider) ActiveQRCode(ctx context.Context, classID string) (string, bool, error) {
	if p.redis == nil {
		return "", false, nil
	}
	code, err := p.redis.Get(ctx, qrCodeKey(classID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

func qrCodeKey(classID string) string {
	return "rollcall:qr:" + classID
}

func subject(name string, present, total int) SubjectAttendance {
	percentage := 0
	if total > 0 {
		percentage = present * 100 / total
	}
	return SubjectAttendance{
		Name:       name,
		Percentage: percentage,
		Present:    present,
		Total:      total,
		Status:     statusFor(percentage),
	}
}

func statusFor(percentage int) string {
	switch {
	case percentage >= 85:
		return "good"
	case percentage >= 75:
		return "warning"
	default:
		return "danger"
	}
}
