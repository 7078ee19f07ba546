package catalog_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"MiniCatalog/internal/blob"
	"MiniCatalog/internal/catalog"
)

type fileSpec struct {
	name    string
	content string
}

func newCatalogTS(t *testing.T, store catalog.Store) (*httptest.Server, string) {
	t.Helper()

	uploadDir := filepath.Join(t.TempDir(), "uploads")
	sink, err := blob.NewLocalSink(uploadDir)
	if err != nil {
		t.Fatalf("local sink: %v", err)
	}

	s := &catalog.Server{Store: store, Blobs: sink, Log: zap.NewNop()}

	h := catalog.NewHandler(s, catalog.HTTPDeps{
		Log:       zap.NewNop(),
		Service:   "catalog",
		UploadDir: uploadDir,
	})

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, uploadDir
}

func multipartBody(t *testing.T, fields map[string]string, files []fileSpec) (io.Reader, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile("images", f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte(f.content)); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	return &buf, mw.FormDataContentType()
}

func widgetFields() map[string]string {
	return map[string]string{
		"sku":         "A1",
		"name":        "Widget",
		"description": "A widget",
		"quantity":    "5",
	}
}

func createProduct(t *testing.T, ts *httptest.Server, fields map[string]string, files []fileSpec, want int) catalog.Product {
	t.Helper()

	body, ct := multipartBody(t, fields, files)
	resp, err := http.Post(ts.URL+"/products", ct, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("create: status=%d want=%d body=%s", resp.StatusCode, want, raw)
	}

	var p catalog.Product
	if want == http.StatusCreated {
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			t.Fatalf("decode created product: %v", err)
		}
	}
	return p
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func doReq(t *testing.T, method, url, contentType string, body io.Reader) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	return len(entries)
}

func TestCreateRoundTrip(t *testing.T) {
	ts, uploadDir := newCatalogTS(t, catalog.NewMemStore())

	created := createProduct(t, ts, widgetFields(), []fileSpec{
		{"front.png", "front-bytes"},
		{"back.png", "back-bytes"},
	}, http.StatusCreated)

	if created.ID == "" {
		t.Fatalf("missing id: %+v", created)
	}
	if created.SKU != "A1" || created.Name != "Widget" || created.Description != "A widget" || created.Quantity != 5 {
		t.Fatalf("created mismatch: %+v", created)
	}
	if len(created.Images) != 2 {
		t.Fatalf("images len=%d want 2", len(created.Images))
	}
	if !strings.Contains(created.Images[0], "front.png") || !strings.Contains(created.Images[1], "back.png") {
		t.Fatalf("upload order not preserved: %#v", created.Images)
	}
	if got := countFiles(t, uploadDir); got != 2 {
		t.Fatalf("uploaded files on disk=%d want 2", got)
	}

	var fetched catalog.Product
	if code := getJSON(t, ts.URL+"/products/"+created.ID, &fetched); code != http.StatusOK {
		t.Fatalf("get: status=%d", code)
	}
	if fetched.ID != created.ID || len(fetched.Images) != 2 || fetched.SKU != "A1" {
		t.Fatalf("fetched mismatch: %+v", fetched)
	}
}

func TestCreateMissingQuantity(t *testing.T) {
	store := catalog.NewMemStore()
	ts, uploadDir := newCatalogTS(t, store)

	fields := widgetFields()
	delete(fields, "quantity")

	body, ct := multipartBody(t, fields, []fileSpec{{"a.png", "x"}})
	resp, raw := doReq(t, http.MethodPost, ts.URL+"/products", ct, body)

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400, body=%s", resp.StatusCode, raw)
	}
	if !strings.Contains(string(raw), "quantity") {
		t.Fatalf("message should name the field: %s", raw)
	}

	var products []catalog.Product
	getJSON(t, ts.URL+"/products", &products)
	if len(products) != 0 {
		t.Fatalf("nothing may persist on rejection: %+v", products)
	}
	// Validation runs before any blob write.
	if got := countFiles(t, uploadDir); got != 0 {
		t.Fatalf("files on disk=%d want 0", got)
	}
}

func TestCreateDuplicateSKU(t *testing.T) {
	ts, _ := newCatalogTS(t, catalog.NewMemStore())

	createProduct(t, ts, widgetFields(), nil, http.StatusCreated)
	createProduct(t, ts, widgetFields(), nil, http.StatusBadRequest)
}

func TestSearchRoutePrecedence(t *testing.T) {
	ts, _ := newCatalogTS(t, catalog.NewMemStore())

	createProduct(t, ts, widgetFields(), nil, http.StatusCreated)

	// Without a term this must hit the search route and match everything,
	// not resolve a product with id "search".
	var products []catalog.Product
	code := getJSON(t, ts.URL+"/products/search", &products)
	if code != http.StatusOK {
		t.Fatalf("status=%d want 200", code)
	}
	if len(products) != 1 {
		t.Fatalf("len=%d want 1", len(products))
	}
}

func TestSearchTerm(t *testing.T) {
	ts, _ := newCatalogTS(t, catalog.NewMemStore())

	createProduct(t, ts, widgetFields(), nil, http.StatusCreated)

	other := widgetFields()
	other["sku"] = "B1"
	other["name"] = "Sprocket"
	other["description"] = "Turns things"
	createProduct(t, ts, other, nil, http.StatusCreated)

	var products []catalog.Product
	if code := getJSON(t, ts.URL+"/products/search?term=WIDGET", &products); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(products) != 1 || products[0].SKU != "A1" {
		t.Fatalf("search result: %+v", products)
	}

	if code := getJSON(t, ts.URL+"/products/search?term=turns", &products); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if len(products) != 1 || products[0].SKU != "B1" {
		t.Fatalf("description search result: %+v", products)
	}
}

func TestGetNotFound(t *testing.T) {
	ts, _ := newCatalogTS(t, catalog.NewMemStore())

	if code := getJSON(t, ts.URL+"/products/p_missing", nil); code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", code)
	}
}

func TestPatchPartialIdempotent(t *testing.T) {
	ts, _ := newCatalogTS(t, catalog.NewMemStore())

	created := createProduct(t, ts, widgetFields(), []fileSpec{{"a.png", "x"}}, http.StatusCreated)

	patch := func() catalog.Product {
		resp, raw := doReq(t, http.MethodPatch, ts.URL+"/products/"+created.ID,
			"application/json", strings.NewReader(`{"name":"Gadget"}`))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("patch: status=%d body=%s", resp.StatusCode, raw)
		}
		var p catalog.Product
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return p
	}

	first := patch()
	second := patch()

	for _, p := range []catalog.Product{first, second} {
		if p.Name != "Gadget" {
			t.Fatalf("name=%q", p.Name)
		}
		if p.SKU != "A1" || p.Description != "A widget" || p.Quantity != 5 || len(p.Images) != 1 {
			t.Fatalf("untouched fields changed: %+v", p)
		}
	}
}

func TestPatchErrors(t *testing.T) {
	ts, _ := newCatalogTS(t, catalog.NewMemStore())

	created := createProduct(t, ts, widgetFields(), nil, http.StatusCreated)

	resp, _ := doReq(t, http.MethodPatch, ts.URL+"/products/p_missing",
		"application/json", strings.NewReader(`{"name":"x"}`))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown id: status=%d want 404", resp.StatusCode)
	}

	resp, raw := doReq(t, http.MethodPatch, ts.URL+"/products/"+created.ID,
		"application/json", strings.NewReader(`{"quantity":-3}`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative quantity: status=%d body=%s", resp.StatusCode, raw)
	}

	resp, _ = doReq(t, http.MethodPatch, ts.URL+"/products/"+created.ID,
		"application/json", strings.NewReader(`{not json`))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json: status=%d want 400", resp.StatusCode)
	}
}

func TestPutReplacesImages(t *testing.T) {
	ts, _ := newCatalogTS(t, catalog.NewMemStore())

	created := createProduct(t, ts, widgetFields(), []fileSpec{{"old.png", "old"}}, http.StatusCreated)

	// New files present: the image set is replaced wholesale.
	body, ct := multipartBody(t, nil, []fileSpec{
		{"new-1.png", "n1"},
		{"new-2.png", "n2"},
	})
	resp, raw := doReq(t, http.MethodPut, ts.URL+"/products/"+created.ID, ct, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put: status=%d body=%s", resp.StatusCode, raw)
	}

	var put struct {
		Message string          `json:"message"`
		Product catalog.Product `json:"product"`
	}
	if err := json.Unmarshal(raw, &put); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if put.Message == "" {
		t.Fatalf("missing message: %s", raw)
	}
	if len(put.Product.Images) != 2 {
		t.Fatalf("images len=%d want 2: %#v", len(put.Product.Images), put.Product.Images)
	}
	for _, ref := range put.Product.Images {
		if strings.Contains(ref, "old.png") {
			t.Fatalf("old image survived replacement: %#v", put.Product.Images)
		}
	}

	// No files: fields merge, images stay.
	body, ct = multipartBody(t, map[string]string{"quantity": "7"}, nil)
	resp, raw = doReq(t, http.MethodPut, ts.URL+"/products/"+created.ID, ct, body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put without files: status=%d body=%s", resp.StatusCode, raw)
	}
	if err := json.Unmarshal(raw, &put); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if put.Product.Quantity != 7 || len(put.Product.Images) != 2 {
		t.Fatalf("keep-existing policy broken: %+v", put.Product)
	}
}

func TestPutNotFound(t *testing.T) {
	ts, uploadDir := newCatalogTS(t, catalog.NewMemStore())

	body, ct := multipartBody(t, nil, []fileSpec{{"a.png", "x"}})
	resp, _ := doReq(t, http.MethodPut, ts.URL+"/products/p_missing", ct, body)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.StatusCode)
	}

	// Blobs written for a miss are compensated away.
	if got := countFiles(t, uploadDir); got != 0 {
		t.Fatalf("files on disk=%d want 0", got)
	}
}

func TestDeleteFinality(t *testing.T) {
	ts, _ := newCatalogTS(t, catalog.NewMemStore())

	created := createProduct(t, ts, widgetFields(), nil, http.StatusCreated)

	resp, raw := doReq(t, http.MethodDelete, ts.URL+"/products/"+created.ID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete: status=%d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), "Deleted product") {
		t.Fatalf("missing confirmation: %s", raw)
	}

	if code := getJSON(t, ts.URL+"/products/"+created.ID, nil); code != http.StatusNotFound {
		t.Fatalf("get after delete: status=%d want 404", code)
	}

	resp, _ = doReq(t, http.MethodDelete, ts.URL+"/products/"+created.ID, "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: status=%d want 404", resp.StatusCode)
	}
}

func TestListEmptyIsArray(t *testing.T) {
	ts, _ := newCatalogTS(t, catalog.NewMemStore())

	resp, raw := doReq(t, http.MethodGet, ts.URL+"/products", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if strings.TrimSpace(string(raw)) != "[]" {
		t.Fatalf("empty list must encode as []: %s", raw)
	}
}

// failingStore forces Create to fail after uploads have been written, to
// exercise blob compensation.
type failingStore struct {
	*catalog.MemStore
}

func (f *failingStore) Create(ctx context.Context, draft catalog.Product) (catalog.Product, error) {
	return catalog.Product{}, errors.New("store offline")
}

func TestCreateCompensatesBlobsOnStoreFailure(t *testing.T) {
	ts, uploadDir := newCatalogTS(t, &failingStore{MemStore: catalog.NewMemStore()})

	body, ct := multipartBody(t, widgetFields(), []fileSpec{
		{"a.png", "x"},
		{"b.png", "y"},
	})
	resp, _ := doReq(t, http.MethodPost, ts.URL+"/products", ct, body)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", resp.StatusCode)
	}

	if got := countFiles(t, uploadDir); got != 0 {
		t.Fatalf("orphaned blobs left on disk: %d", got)
	}
}

func TestServeUploads(t *testing.T) {
	ts, _ := newCatalogTS(t, catalog.NewMemStore())

	created := createProduct(t, ts, widgetFields(), []fileSpec{{"front.png", "front-bytes"}}, http.StatusCreated)
	if len(created.Images) != 1 {
		t.Fatalf("images: %#v", created.Images)
	}

	// The stored ref is an absolute temp path in tests; serve by file name.
	name := created.Images[0][strings.LastIndex(created.Images[0], "/")+1:]
	resp, raw := doReq(t, http.MethodGet, ts.URL+"/uploads/"+name, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if string(raw) != "front-bytes" {
		t.Fatalf("served content mismatch: %q", raw)
	}
}
