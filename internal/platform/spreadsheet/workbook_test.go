package spreadsheet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	domain "finitefield.org/usermapping/internal/domain"
)

func TestRenderMappingSheet(t *testing.T) {
	rows := []domain.MappingSheetRow{
		{SourceFieldKey: "email", SourceName: "Email", SourceDataType: "text", TargetFieldKey: "e_mail", TargetName: "E-mail", TargetDataType: "text"},
		{SourceFieldKey: "tier", SourceName: "Tier", SourceDataType: "dropdown", TargetFieldKey: "plan", TargetName: "Plan", TargetDataType: "tagger"},
	}

	data, err := NewRenderer().RenderMappingSheet(rows)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())
	got, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, Header, got[0])
	assert.Equal(t, []string{"email", "Email", "text", "e_mail", "E-mail", "text"}, got[1])
	assert.Equal(t, []string{"tier", "Tier", "dropdown", "plan", "Plan", "tagger"}, got[2])
}

func TestRenderMappingSheetEmpty(t *testing.T) {
	data, err := NewRenderer().RenderMappingSheet(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	got, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Header, got[0])
}
