package cntd

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchMetadataBuildsRecord(t *testing.T) {
	t.Parallel()

	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/document/1300", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": 1300,
			"names": ["О порядке &laquo;учета&raquo; &amp; контроля", "second"],
			"registrations": [
				{"date": "2025-03-14", "number": "42-ФЗ", "doctype": {"name": "Федеральный закон"}},
				{"date": "2020-01-01"}
			]
		}`))
	})

	rec, err := client.FetchMetadata(context.Background(), "1300")
	require.NoError(t, err)
	assert.Equal(t, "1300", rec.DocID)
	assert.Equal(t, "О порядке «учета» & контроля", rec.Title)
	assert.Equal(t, "Федеральный закон от 14 марта 2025 г. № 42-ФЗ", rec.Requisites)
	assert.Equal(t, srv.URL+"/document/1300", rec.URL)
	require.NotNil(t, rec.PublishedAt)
	assert.True(t, rec.PublishedAt.Equal(time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)))
}

func TestFetchMetadataWithoutRegistrations(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"names": []}`))
	})

	rec, err := client.FetchMetadata(context.Background(), "7")
	require.NoError(t, err)
	assert.Empty(t, rec.Title)
	assert.Empty(t, rec.Requisites)
	assert.Nil(t, rec.PublishedAt)
}

func TestRequisitesVariants(t *testing.T) {
	t.Parallel()

	decode := func(raw string) registration {
		var reg registration
		require.NoError(t, json.Unmarshal([]byte(raw), &reg))
		return reg
	}

	cases := map[string]struct {
		raw  string
		want string
	}{
		"full":             {raw: `{"date":"2024-12-01","number":17,"doctype":{"name":"Приказ"}}`, want: "Приказ от 1 декабря 2024 г. № 17"},
		"no number":        {raw: `{"date":"2024-05-09","doctype":{"name":"Приказ"}}`, want: "Приказ от 9 мая 2024 г."},
		"doctype only":     {raw: `{"number":"5","doctype":{"name":"Письмо"}}`, want: "Письмо № 5"},
		"date only":        {raw: `{"date":"2023-02-28","number":"8"}`, want: "от 28 февраля 2023 г. № 8"},
		"unparseable date": {raw: `{"date":"March 2023","doctype":{"name":"Указ"}}`, want: "Указ от March 2023"},
		"empty":            {raw: `{"number":"8"}`, want: ""},
	}
	for name, tc := range cases {
		assert.Equal(t, tc.want, requisites(decode(tc.raw)), name)
	}
}

func TestDecodeMetadataRejectsNonObject(t *testing.T) {
	t.Parallel()

	_, err := decodeMetadata([]byte(`["a"]`))
	require.Error(t, err)
	_, err = decodeMetadata([]byte(`{`))
	require.Error(t, err)
}
