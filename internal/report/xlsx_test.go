package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/pitabwire/cartable/model"
)

func TestWriteXLSX(t *testing.T) {
	at := time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	items := []model.CartableItem{
		{
			TrackingCode:  "WO-1",
			Module:        "WORK_ORDER",
			Title:         "Replace pump seal",
			CurrentStepID: "verify",
			Status:        model.ItemStatusPending,
			AssigneeRole:  "MANAGER",
			InitiatorID:   "u1",
			CreatedAt:     at,
			UpdatedAt:     at,
			Data:          map[string]any{model.DataKeyStatus: model.MirrorStatusVerification},
		},
		{
			TrackingCode:  "PR-7",
			Module:        "PURCHASE",
			Title:         "Bearings",
			CurrentStepID: "request",
			Status:        model.ItemStatusPending,
			AssigneeRole:  "USER",
			AssigneeID:    "u2",
			InitiatorID:   "u2",
			CreatedAt:     at,
			UpdatedAt:     at,
		},
	}

	buf, err := WriteXLSX(items)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	require.Equal(t, []string{sheetName}, f.GetSheetList())

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, Columns, rows[0])
	require.Equal(t, "WO-1", rows[1][0])
	require.Equal(t, "verify (VERIFICATION)", rows[1][3])
	require.Equal(t, "2026-04-02 10:30:00", rows[1][8])
	require.Equal(t, "request", rows[2][3])
	require.Equal(t, "u2", rows[2][6])
}

func TestWriteXLSX_empty(t *testing.T) {
	buf, err := WriteXLSX(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
