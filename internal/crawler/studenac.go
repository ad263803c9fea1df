package crawler

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// StudenacCrawler reads Studenac's daily bundle: a single dated ZIP
// archive containing one XML price document per store.
type StudenacCrawler struct {
	baseURL   string
	fetcher   *Fetcher
	snapshots *SnapshotStore
}

// studenacDocument mirrors the per-store XML layout inside the bundle.
type studenacDocument struct {
	XMLName xml.Name `xml:"Cjenik"`
	Store   struct {
		Code       string `xml:"Oznaka"`
		Name       string `xml:"Naziv"`
		Address    string `xml:"Adresa"`
		PostalCode string `xml:"PostanskiBroj"`
		City       string `xml:"Grad"`
	} `xml:"ProdajniObjekt"`
	Products []struct {
		Code        string `xml:"Sifra"`
		Barcode     string `xml:"Barkod"`
		Name        string `xml:"NazivProizvoda"`
		Brand       string `xml:"Marka"`
		Unit        string `xml:"JedinicaMjere"`
		Quantity    string `xml:"Kolicina"`
		Price       string `xml:"MaloprodajnaCijena"`
		UnitPrice   string `xml:"CijenaPoJedinici"`
		Special     string `xml:"AkcijskaCijena"`
		BestPrice30 string `xml:"NajnizaCijena30"`
		Anchor      string `xml:"SidrenaCijena"`
	} `xml:"Proizvodi>Proizvod"`
}

// NewStudenacCrawler creates a Studenac source crawler.
func NewStudenacCrawler(baseURL string, fetcher *Fetcher, snapshots *SnapshotStore) *StudenacCrawler {
	return &StudenacCrawler{
		baseURL:   strings.TrimRight(baseURL, "/"),
		fetcher:   fetcher,
		snapshots: snapshots,
	}
}

// Chain returns the chain name this crawler serves.
func (s *StudenacCrawler) Chain() string { return "studenac" }

// Crawl downloads the day's archive once, then runs the shared per-store
// pipeline over its entries. Cache hits skip only the per-store parse
// work; the archive itself is one fetch for the whole chain.
func (s *StudenacCrawler) Crawl(ctx context.Context, date time.Time) (Result, error) {
	url := fmt.Sprintf("%s/cjenici/PROIZVODI-%s.zip", s.baseURL, date.Format("2006-01-02"))
	body, err := s.fetcher.Get(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: studenac %s: %v", ErrNoData, date.Format("2006-01-02"), err)
	}

	archive, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to open studenac archive: %w", err)
	}

	docs := make(map[string]studenacDocument, len(archive.File))
	sources := make([]StoreSource, 0, len(archive.File))
	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() || !strings.HasSuffix(entry.Name, ".xml") {
			continue
		}

		doc, err := readStudenacEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive entry %s: %w", entry.Name, err)
		}

		docs[entry.Name] = doc
		sources = append(sources, StoreSource{
			Info: StoreInfo{
				Chain:      s.Chain(),
				Code:       doc.Store.Code,
				Name:       doc.Store.Name,
				Address:    doc.Store.Address,
				PostalCode: doc.Store.PostalCode,
				City:       doc.Store.City,
			},
			Ref: entry.Name,
		})
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: studenac %s", ErrNoData, date.Format("2006-01-02"))
	}

	return ProcessStores(ctx, s.snapshots, s.Chain(), date, sources,
		func(ctx context.Context, src StoreSource) ([]PriceRecord, error) {
			doc, ok := docs[src.Ref]
			if !ok {
				return nil, fmt.Errorf("archive entry %s not found", src.Ref)
			}
			return docRecords(doc), nil
		})
}

func readStudenacEntry(entry *zip.File) (studenacDocument, error) {
	var doc studenacDocument
	rc, err := entry.Open()
	if err != nil {
		return doc, err
	}
	defer rc.Close()

	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func docRecords(doc studenacDocument) []PriceRecord {
	records := make([]PriceRecord, 0, len(doc.Products))
	for _, p := range doc.Products {
		records = append(records, PriceRecord{
			ProductCode:  p.Code,
			Barcode:      p.Barcode,
			Name:         p.Name,
			Brand:        p.Brand,
			Unit:         p.Unit,
			Quantity:     p.Quantity,
			Price:        ParseDecimal(p.Price),
			UnitPrice:    ParseDecimal(p.UnitPrice),
			SpecialPrice: ParseDecimal(p.Special),
			BestPrice30:  ParseDecimal(p.BestPrice30),
			AnchorPrice:  ParseDecimal(p.Anchor),
		})
	}
	return records
}
