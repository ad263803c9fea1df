package crawler

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func studenacXML(code, name string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Cjenik>
	<ProdajniObjekt>
		<Oznaka>%s</Oznaka>
		<Naziv>%s</Naziv>
		<Adresa>Obala 5</Adresa>
		<PostanskiBroj>23000</PostanskiBroj>
		<Grad>Zadar</Grad>
	</ProdajniObjekt>
	<Proizvodi>
		<Proizvod>
			<Sifra>3001</Sifra>
			<Barkod>3850104000012</Barkod>
			<NazivProizvoda>Voda 1.5L</NazivProizvoda>
			<Marka>Studena</Marka>
			<JedinicaMjere>L</JedinicaMjere>
			<Kolicina>1.5</Kolicina>
			<MaloprodajnaCijena>0,75</MaloprodajnaCijena>
			<CijenaPoJedinici>0,50</CijenaPoJedinici>
			<AkcijskaCijena></AkcijskaCijena>
			<NajnizaCijena30>0,69</NajnizaCijena30>
			<SidrenaCijena>0,79</SidrenaCijena>
		</Proizvod>
		<Proizvod>
			<Sifra>3002</Sifra>
			<Barkod></Barkod>
			<NazivProizvoda>Pecivo</NazivProizvoda>
			<MaloprodajnaCijena>0,45</MaloprodajnaCijena>
		</Proizvod>
	</Proizvodi>
</Cjenik>`, code, name)
}

func buildStudenacArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestStudenacCrawl(t *testing.T) {
	date := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	archive := buildStudenacArchive(t, map[string]string{
		"st100.xml":  studenacXML("st100", "Studenac Zadar"),
		"st101.xml":  studenacXML("st101", "Studenac Borik"),
		"readme.txt": "not a price document",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cjenici/PROIZVODI-2026-08-31.zip" {
			http.NotFound(w, r)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	snapshots := newTestSnapshots(t)
	sc := NewStudenacCrawler(srv.URL, NewFetcher(testFetcherConfig()), snapshots)

	result, err := sc.Crawl(context.Background(), date)
	require.NoError(t, err)
	require.Len(t, result, 2)

	zadar := StoreInfo{Chain: "studenac", Code: "st100", Name: "Studenac Zadar", Address: "Obala 5", PostalCode: "23000", City: "Zadar"}
	records, ok := result[zadar]
	require.True(t, ok, "expected store metadata from the XML document")
	require.Len(t, records, 2)

	assert.Equal(t, "Voda 1.5L", records[0].Name)
	require.True(t, records[0].Price.Valid)
	assert.Equal(t, "0.75", records[0].Price.Decimal.String())
	assert.False(t, records[0].SpecialPrice.Valid)
	require.True(t, records[0].BestPrice30.Valid)
	assert.Equal(t, "0.69", records[0].BestPrice30.Decimal.String())

	assert.Equal(t, "_3002", records[1].Barcode)
	assert.True(t, snapshots.Exists("studenac", "st100", date))
}

func TestStudenacCrawlMissingArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	sc := NewStudenacCrawler(srv.URL, NewFetcher(testFetcherConfig()), newTestSnapshots(t))

	_, err := sc.Crawl(context.Background(), time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestStudenacCrawlEmptyArchive(t *testing.T) {
	archive := buildStudenacArchive(t, map[string]string{"readme.txt": "nothing here"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	sc := NewStudenacCrawler(srv.URL, NewFetcher(testFetcherConfig()), newTestSnapshots(t))

	_, err := sc.Crawl(context.Background(), time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, ErrNoData)
}
