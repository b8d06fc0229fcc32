package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/store"
	"github.com/emrgen/cdr/internal/tester"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	tester.Setup()
	code := m.Run()

	os.Exit(code)
}

func TestRawQuery_ReadOnly(t *testing.T) {
	s := tester.NewStore(t)
	ctx := context.Background()
	require.NoError(t, s.DB().Create(&model.Zipcode{Zip: "20892"}).Error)

	writes := []string{
		"DROP TABLE link_type",
		"DELETE FROM zipcode",
		"INSERT INTO zipcode (zip) VALUES ('00000')",
	}
	for _, q := range writes {
		_, _, err := s.RawQuery(ctx, q)
		assert.Error(t, err, q)
	}

	err := s.Transaction(ctx, func(tx store.Store) error {
		_, _, err := tx.RawQuery(ctx, "DROP TABLE filter_set_member")
		assert.Error(t, err)
		cols, rows, err := tx.RawQuery(ctx, "SELECT zip FROM zipcode")
		require.NoError(t, err)
		assert.Equal(t, []string{"zip"}, cols)
		assert.Equal(t, [][]string{{"20892"}}, rows)
		return nil
	})
	require.NoError(t, err)

	assert.True(t, s.DB().Migrator().HasTable("link_type"))
	assert.True(t, s.DB().Migrator().HasTable("filter_set_member"))

	// writes work again once the query returns
	require.NoError(t, s.DB().Create(&model.Zipcode{Zip: "20814"}).Error)
	_, rows, err := s.RawQuery(ctx, "SELECT zip FROM zipcode ORDER BY zip")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"20814"}, {"20892"}}, rows)
}
