// Package restapi registers the REST surface of the benchmark server.
package restapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jaseci-llmdocs/jacbench/cmd/jacbench/model"
	"github.com/jaseci-llmdocs/jacbench/collection"
	"github.com/jaseci-llmdocs/jacbench/evaluator"
	"github.com/jaseci-llmdocs/jacbench/queuemgr"
	"github.com/jaseci-llmdocs/jacbench/store"
	"github.com/jaseci-llmdocs/jacbench/suite"
	"github.com/jaseci-llmdocs/jacbench/types"
	"github.com/jaseci-llmdocs/jacbench/variant"
)

// Register registers handles on the gin engine.
type Register interface {
	Register(*gin.Engine)
}

type handle struct {
	mgr      *queuemgr.Manager
	evals    *evaluator.Evaluator
	store    store.Store
	agg      *collection.Aggregator
	variants *variant.Catalog
	suite    *suite.Suite
	logger   *zap.Logger
}

// New creates the REST handle.
func New(mgr *queuemgr.Manager, evals *evaluator.Evaluator, st store.Store,
	agg *collection.Aggregator, variants *variant.Catalog, s *suite.Suite,
	logger *zap.Logger) Register {
	return &handle{
		mgr:      mgr,
		evals:    evals,
		store:    st,
		agg:      agg,
		variants: variants,
		suite:    s,
		logger:   logger,
	}
}

func (h *handle) Register(r *gin.Engine) {
	api := r.Group("/api")

	api.POST("/runs", h.handleSubmit)
	api.GET("/runs", h.handleListRuns)
	api.GET("/runs/:id", h.handleRunStatus)
	api.POST("/runs/:id/cancel", h.handleCancelRun)
	api.POST("/runs/:id/batches/:num/rerun", h.handleRerunBatch)
	api.POST("/cancel", h.handleCancelAll)
	api.GET("/status", h.handleGlobalStatus)

	api.GET("/artifacts", h.handleListArtifacts)
	api.GET("/artifacts/:id", h.handleReadArtifact)
	api.DELETE("/artifacts/:id", h.handleDeleteArtifact)
	api.GET("/artifacts/:id/result", h.handleReadResult)
	api.POST("/artifacts/:id/evaluate", h.handleEvaluate)

	api.POST("/collections", h.handleCreateCollection)
	api.GET("/collections", h.handleListCollections)
	api.GET("/collections/:name", h.handleCollectionStats)
	api.POST("/collections/:name/artifacts", h.handleAddToCollection)
	api.DELETE("/collections/:name/artifacts/:id", h.handleRemoveFromCollection)
	api.DELETE("/collections/:name", h.handleDeleteCollection)
	api.GET("/compare", h.handleCompare)

	api.GET("/variants", h.handleListVariants)
	api.GET("/suite", h.handleSuite)
}

// abortErr maps internal error kinds to HTTP statuses.
func abortErr(ctx *gin.Context, err error) {
	ctx.Error(err)
	switch {
	case errors.Is(err, store.ErrNotFound):
		ctx.AbortWithStatusJSON(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrExists), errors.Is(err, store.ErrReferenced):
		ctx.AbortWithStatusJSON(http.StatusConflict, err.Error())
	case errors.Is(err, types.ErrBadRequest), errors.Is(err, types.ErrConfig):
		ctx.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
	default:
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, err.Error())
	}
}

func (h *handle) handleSubmit(ctx *gin.Context) {
	var req model.SubmitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}
	ids, err := h.mgr.Submit(req.ToRunRequest())
	if err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusAccepted, model.SubmitResponse{RunIDs: ids})
}

func (h *handle) handleListRuns(ctx *gin.Context) {
	snaps := h.mgr.ListRuns()
	out := make([]model.RunStatus, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, model.ConvertRun(s))
	}
	ctx.JSON(http.StatusOK, out)
}

func (h *handle) handleRunStatus(ctx *gin.Context) {
	snap, err := h.mgr.RunStatus(ctx.Param("id"))
	if err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, model.ConvertRun(snap))
}

func (h *handle) handleCancelRun(ctx *gin.Context) {
	if err := h.mgr.CancelRun(ctx.Param("id")); err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (h *handle) handleRerunBatch(ctx *gin.Context) {
	num, err := strconv.Atoi(ctx.Param("num"))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, "invalid batch number")
		return
	}
	if err := h.mgr.RerunBatch(ctx.Param("id"), num); err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.Status(http.StatusAccepted)
}

func (h *handle) handleCancelAll(ctx *gin.Context) {
	h.mgr.CancelAll()
	ctx.Status(http.StatusAccepted)
}

func (h *handle) handleGlobalStatus(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, model.ConvertGlobal(h.mgr.GlobalStatus()))
}

func (h *handle) handleListArtifacts(ctx *gin.Context) {
	ids, err := h.store.ListArtifacts()
	if err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"artifact_ids": ids})
}

func (h *handle) handleReadArtifact(ctx *gin.Context) {
	a, err := h.store.ReadArtifact(ctx.Param("id"))
	if err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, a)
}

func (h *handle) handleDeleteArtifact(ctx *gin.Context) {
	if err := h.store.DeleteArtifact(ctx.Param("id")); err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *handle) handleReadResult(ctx *gin.Context) {
	res, err := h.store.ReadEvalResult(ctx.Param("id"))
	if err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *handle) handleEvaluate(ctx *gin.Context) {
	res, err := h.evals.Evaluate(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, res)
}

func (h *handle) handleCreateCollection(ctx *gin.Context) {
	var req model.CollectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}
	col, err := h.store.CreateCollection(req.Name, req.ArtifactIDs)
	if err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, col)
}

func (h *handle) handleListCollections(ctx *gin.Context) {
	cols, err := h.store.ListCollections()
	if err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, cols)
}

func (h *handle) handleCollectionStats(ctx *gin.Context) {
	stats, err := h.agg.Stats(ctx.Param("name"))
	if err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, stats)
}

func (h *handle) handleAddToCollection(ctx *gin.Context) {
	var req model.CollectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.Error(err)
		ctx.AbortWithStatusJSON(http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.AddToCollection(ctx.Param("name"), req.ArtifactIDs); err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *handle) handleRemoveFromCollection(ctx *gin.Context) {
	if err := h.store.RemoveFromCollection(ctx.Param("name"), []string{ctx.Param("id")}); err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *handle) handleDeleteCollection(ctx *gin.Context) {
	if err := h.store.DeleteCollection(ctx.Param("name")); err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *handle) handleCompare(ctx *gin.Context) {
	first, second := ctx.Query("first"), ctx.Query("second")
	if first == "" || second == "" {
		ctx.AbortWithStatusJSON(http.StatusBadRequest, "first and second collection names required")
		return
	}
	cmp, err := h.agg.Compare(first, second)
	if err != nil {
		abortErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, cmp)
}

func (h *handle) handleListVariants(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.variants.List())
}

func (h *handle) handleSuite(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"name":         h.suite.Name,
		"total_tests":  h.suite.Len(),
		"total_points": h.suite.TotalPoints(),
		"test_ids":     h.suite.IDs(),
	})
}
