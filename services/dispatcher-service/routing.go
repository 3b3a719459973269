package main

import (
	"context"
	"fmt"
	"strings"

	"civic-issue-tracker/services/report-service/models"
)

const fallbackDepartment = "general"

// categoryRoutes maps a citizen-facing category to the code of the
// department that handles it. Keys are lower case.
var categoryRoutes = map[string]string{
	"sampah":          "kebersihan",
	"kebersihan":      "kebersihan",
	"garbage":         "kebersihan",
	"jalan":           "pekerjaan_umum",
	"jalan rusak":     "pekerjaan_umum",
	"drainase":        "pekerjaan_umum",
	"road":            "pekerjaan_umum",
	"infrastructure":  "pekerjaan_umum",
	"lampu jalan":     "penerangan",
	"penerangan":      "penerangan",
	"streetlight":     "penerangan",
	"lingkungan":      "lingkungan_hidup",
	"polusi":          "lingkungan_hidup",
	"environment":     "lingkungan_hidup",
	"lalu lintas":     "perhubungan",
	"transportasi":    "perhubungan",
	"traffic":         "perhubungan",
	"keamanan":        "ketertiban",
	"ketertiban umum": "ketertiban",
	"security":        "ketertiban",
}

// DepartmentForCategory returns the department code for category, falling
// back to general affairs for anything unknown.
func DepartmentForCategory(category string) string {
	if code, ok := categoryRoutes[strings.ToLower(strings.TrimSpace(category))]; ok {
		return code
	}
	return fallbackDepartment
}

type departmentLookup interface {
	DepartmentByCode(ctx context.Context, code string) (*models.Department, error)
}

// resolveDepartment finds the department for category. A routed code that is
// missing from the directory falls back to general affairs.
func resolveDepartment(ctx context.Context, dir departmentLookup, category string) (*models.Department, error) {
	code := DepartmentForCategory(category)
	for _, c := range []string{code, fallbackDepartment} {
		dept, err := dir.DepartmentByCode(ctx, c)
		if err != nil {
			return nil, err
		}
		if dept != nil {
			return dept, nil
		}
	}
	return nil, fmt.Errorf("no department %q or %q in directory", code, fallbackDepartment)
}
