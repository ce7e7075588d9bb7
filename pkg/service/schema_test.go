package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm/schema"

	"github.com/shopfloor/isos/pkg/asset"
	"github.com/shopfloor/isos/pkg/cycle"
	"github.com/shopfloor/isos/pkg/directory"
	"github.com/shopfloor/isos/pkg/history"
)

// MySQL cannot index TEXT columns without a prefix length, so every indexed
// string column must map to a bounded varchar even without a DefaultStringSize.
func TestIndexedColumnsAreBoundedOnMySQL(t *testing.T) {
	dialector := mysql.Dialector{Config: &mysql.Config{SkipInitializeWithVersion: true}}
	cache := &sync.Map{}

	cases := []struct {
		model   any
		columns []string
	}{
		{&asset.Asset{}, []string{"asset_type", "asset_key"}},
		{&cycle.Cycle{}, []string{"asset_type", "asset_key", "open_key"}},
		{&directory.User{}, []string{"username"}},
		{&directory.Operator{}, []string{"username", "operator_id"}},
		{&history.Entry{}, []string{"field_name"}},
	}
	for _, tc := range cases {
		s, err := schema.Parse(tc.model, cache, schema.NamingStrategy{})
		require.NoError(t, err)
		for _, column := range tc.columns {
			field := s.LookUpField(column)
			require.NotNil(t, field, "%s.%s", s.Table, column)
			assert.Equal(t, "varchar(191)", dialector.DataTypeOf(field), "%s.%s", s.Table, column)
		}
	}
}
