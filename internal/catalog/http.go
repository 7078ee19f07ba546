package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"MiniCatalog/internal/blob"
	"MiniCatalog/pkg/kit"
)

type Server struct {
	Store Store
	Blobs blob.Sink
	Log   *zap.Logger
}

const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 32 << 20

	imagesField = "images"

	uploadLimitPerMin = 60
	limitWindow       = 60 * time.Second
)

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()

		if err := s.Store.Ping(ctx); err != nil {
			if s.Log != nil {
				s.Log.Warn("readyz failed", zap.Error(err))
			}
			kit.WriteError(w, r, http.StatusServiceUnavailable, "not ready", nil)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	uploadLimiter := kit.NewIPRateLimiter(uploadLimitPerMin, int(limitWindow.Seconds()))

	r.Route("/products", func(rr chi.Router) {
		rr.Get("/", s.list)
		// The literal search route must be registered ahead of the {id}
		// matcher or "search" gets taken for a product id.
		rr.Get("/search", s.search)
		rr.Get("/{id}", s.get)

		rr.With(uploadLimiter.Middleware).Post("/", s.create)
		rr.Patch("/{id}", s.patchProduct)
		rr.With(uploadLimiter.Middleware).Put("/{id}", s.putProduct)
		rr.Delete("/{id}", s.deleteProduct)
	})

	return r
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	products, err := s.Store.List(r.Context())
	if err != nil {
		s.logError("list products failed", err)
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", err)
		return
	}
	if products == nil {
		products = []Product{}
	}
	kit.WriteJSON(w, http.StatusOK, products)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	term := r.URL.Query().Get("term")

	products, err := s.Store.Search(r.Context(), term)
	if err != nil {
		s.logError("search products failed", err, zap.String("term", term))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", err)
		return
	}
	if products == nil {
		products = []Product{}
	}
	kit.WriteJSON(w, http.StatusOK, products)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	p, ok, err := s.Store.Get(r.Context(), id)
	if err != nil {
		s.logError("get product failed", err, zap.String("id", id))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", err)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "Cannot find product", nil)
		return
	}
	kit.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad multipart form", err)
		return
	}

	draft, vErr := draftFromForm(r)
	if vErr != nil {
		kit.WriteError(w, r, http.StatusBadRequest, vErr.Error(), nil)
		return
	}

	refs, err := s.saveUploads(r)
	if err != nil {
		s.discardBlobs(r.Context(), refs)
		s.logError("image upload failed", err)
		kit.WriteError(w, r, http.StatusInternalServerError, "image upload failed", err)
		return
	}
	draft.Images = refs

	p, err := s.Store.Create(r.Context(), draft)
	if err != nil {
		s.discardBlobs(r.Context(), refs)
		s.writeStoreError(w, r, err, "could not create product")
		return
	}

	kit.WriteJSON(w, http.StatusCreated, p)
}

func (s *Server) patchProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var u ProductUpdate
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&u); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", err)
		return
	}

	p, ok, err := s.Store.Update(r.Context(), id, u)
	if err != nil {
		s.writeStoreError(w, r, err, "could not update product")
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "Cannot find product", nil)
		return
	}

	kit.WriteJSON(w, http.StatusOK, p)
}

type updateResponse struct {
	Message string  `json:"message"`
	Product Product `json:"product"`
}

func (s *Server) putProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad multipart form", err)
		return
	}

	u, vErr := updateFromForm(r)
	if vErr != nil {
		kit.WriteError(w, r, http.StatusBadRequest, vErr.Error(), nil)
		return
	}

	var refs []string
	if len(r.MultipartForm.File[imagesField]) > 0 {
		var err error
		refs, err = s.saveUploads(r)
		if err != nil {
			s.discardBlobs(r.Context(), refs)
			s.logError("image upload failed", err, zap.String("id", id))
			kit.WriteError(w, r, http.StatusInternalServerError, "image upload failed", err)
			return
		}
		u.Images = refs
		u.ImagePolicy = ReplaceAllImages
	}

	p, ok, err := s.Store.Update(r.Context(), id, u)
	if err != nil {
		s.discardBlobs(r.Context(), refs)
		s.writeStoreError(w, r, err, "could not update product")
		return
	}
	if !ok {
		s.discardBlobs(r.Context(), refs)
		kit.WriteError(w, r, http.StatusNotFound, "Cannot find product", nil)
		return
	}

	kit.WriteJSON(w, http.StatusOK, updateResponse{Message: "Product updated", Product: p})
}

func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ok, err := s.Store.Delete(r.Context(), id)
	if err != nil {
		s.logError("delete product failed", err, zap.String("id", id))
		kit.WriteError(w, r, http.StatusInternalServerError, "could not delete product", err)
		return
	}
	if !ok {
		kit.WriteError(w, r, http.StatusNotFound, "Cannot find product", nil)
		return
	}

	kit.WriteJSON(w, http.StatusOK, map[string]string{"message": "Deleted product"})
}

// draftFromForm reads the required create fields out of a parsed multipart
// form.
func draftFromForm(r *http.Request) (Product, *ValidationError) {
	var p Product

	p.SKU = r.FormValue("sku")
	p.Name = r.FormValue("name")
	p.Description = r.FormValue("description")

	qty := r.FormValue("quantity")
	if qty == "" {
		return Product{}, errRequired("quantity")
	}
	n, err := strconv.Atoi(qty)
	if err != nil {
		return Product{}, &ValidationError{Field: "quantity", Reason: "must be an integer"}
	}
	p.Quantity = n

	if vErr := requireDraftStrings(p); vErr != nil {
		return Product{}, vErr
	}
	return p, nil
}

func requireDraftStrings(p Product) *ValidationError {
	if p.SKU == "" {
		return errRequired("sku")
	}
	if p.Name == "" {
		return errRequired("name")
	}
	if p.Description == "" {
		return errRequired("description")
	}
	return nil
}

// updateFromForm reads whichever fields are present; a field absent from
// the form stays nil and keeps its stored value.
func updateFromForm(r *http.Request) (ProductUpdate, *ValidationError) {
	var u ProductUpdate

	u.SKU = formString(r, "sku")
	u.Name = formString(r, "name")
	u.Description = formString(r, "description")

	if qty := formString(r, "quantity"); qty != nil {
		n, err := strconv.Atoi(*qty)
		if err != nil {
			return ProductUpdate{}, &ValidationError{Field: "quantity", Reason: "must be an integer"}
		}
		u.Quantity = &n
	}

	return u, nil
}

func formString(r *http.Request, key string) *string {
	vs, ok := r.MultipartForm.Value[key]
	if !ok || len(vs) == 0 {
		return nil
	}
	return &vs[0]
}

// saveUploads writes every attached image to the blob sink, in upload order.
// On failure it returns the references written so far so the caller can
// compensate.
func (s *Server) saveUploads(r *http.Request) ([]string, error) {
	files := r.MultipartForm.File[imagesField]

	refs := make([]string, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return refs, err
		}

		ref, err := s.Blobs.Save(r.Context(), imagesField, fh.Filename, f)
		_ = f.Close()
		if err != nil {
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// discardBlobs best-effort deletes blobs written earlier in a request whose
// store write failed. Failures are logged and swallowed; the client already
// has its error.
func (s *Server) discardBlobs(ctx context.Context, refs []string) {
	for _, ref := range refs {
		if err := s.Blobs.Remove(ctx, ref); err != nil {
			s.logError("orphaned blob cleanup failed", err, zap.String("ref", ref))
		}
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var vErr *ValidationError
	switch {
	case errors.Is(err, ErrDuplicateSKU):
		kit.WriteError(w, r, http.StatusBadRequest, ErrDuplicateSKU.Error(), nil)
	case errors.As(err, &vErr):
		kit.WriteError(w, r, http.StatusBadRequest, vErr.Error(), nil)
	default:
		s.logError(fallback, err)
		kit.WriteError(w, r, http.StatusBadRequest, fallback, err)
	}
}

func (s *Server) logError(msg string, err error, fields ...zap.Field) {
	if s.Log == nil {
		return
	}
	s.Log.Error(msg, append([]zap.Field{zap.Error(err)}, fields...)...)
}
