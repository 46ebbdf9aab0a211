// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bambooforest/qiengine/services/engine/controller"
	"github.com/bambooforest/qiengine/services/engine/corpusconfig"
	"github.com/bambooforest/qiengine/services/engine/datatypes"
	"github.com/bambooforest/qiengine/services/engine/enginerr"
	"github.com/bambooforest/qiengine/services/engine/observability"
	"github.com/bambooforest/qiengine/services/engine/querystate"
)

// QueryRequest is the POST /query body, exactly spec.md §6's table. Tags
// drive go-playground/validator; corpora and query are the two fields an
// empty body would otherwise let through silently.
type QueryRequest struct {
	User                  string         `json:"user" binding:"required" validate:"required"`
	Room                  string         `json:"room" binding:"required" validate:"required"`
	Corpora               []int          `json:"corpora" validate:"required,min=1"`
	Query                 map[string]any `json:"query" validate:"required"`
	Languages             []string       `json:"languages"`
	TotalResultsRequested int            `json:"total_results_requested"`
	PageSize              int            `json:"page_size"`
	Sentences             bool           `json:"sentences"`
	Full                  bool           `json:"full"`
	Previous              string         `json:"previous"`
	ToExport              string         `json:"to_export"`
}

// QueryResponse is the {status, job} body spec.md §6 promises.
type QueryResponse struct {
	Status string `json:"status"`
	Job    string `json:"job"`
}

// NewQueryHandler builds the POST /query handler: validate the body,
// resolve the requested corpora against the cached corpus config,
// generate SQL via the SQLGenerator adapter, and submit the first
// iteration through the Controller (spec.md §6: "Creates a Logical Query
// or resumes previous; returns {status, job}").
func NewQueryHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, enginerr.ReasonNone, "malformed request body: "+err.Error())
			return
		}
		if err := deps.Validate.Struct(req); err != nil {
			respondInvalid(c, enginerr.ReasonNone, "invalid request body: "+err.Error())
			return
		}

		ctx := c.Request.Context()

		cfg, err := loadAppConfig(ctx, deps)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "corpus config unavailable"})
			return
		}

		var allBatches []datatypes.Batch
		var wordCount int64
		for _, id := range req.Corpora {
			corpus, ok := cfg.ByID(id)
			if !ok {
				respondInvalid(c, enginerr.ReasonNone, "unknown corpus id")
				return
			}
			allBatches = append(allBatches, corpus.Batches...)
			wordCount += corpus.WordCount
		}

		maxLines := deps.DefaultMaxKWICLines
		if req.PageSize > 0 && maxLines > 0 && req.PageSize > maxLines {
			respondInvalid(c, enginerr.ReasonKWICLimit, "requested page_size exceeds the configured KWIC line limit")
			return
		}
		if len(allBatches) == 0 && req.Previous == "" {
			respondInvalid(c, enginerr.ReasonNoBatch, "no batches available for the requested corpora")
			return
		}

		newReq := controller.NewQueryRequest{
			User:                  req.User,
			Room:                  req.Room,
			CorpusIDs:             req.Corpora,
			Query:                 req.Query,
			Languages:             req.Languages,
			TotalResultsRequested: req.TotalResultsRequested,
			PageSize:              req.PageSize,
			Sentences:             req.Sentences,
			Full:                  req.Full,
			Previous:              req.Previous,
			ToExport:              req.ToExport,
		}

		lq, it, err := deps.Controller.FromRequest(ctx, newReq, allBatches)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start logical query"})
			return
		}

		result := deps.Controller.ChooseBatch(lq, it, req.Previous != "")
		if result.NoMoreData {
			respondInvalid(c, enginerr.ReasonNoBatch, "no batch available to satisfy this request")
			return
		}
		if deps.Metrics != nil {
			deps.Metrics.RecordBatchSelection(observability.BatchSelected)
		}

		generated, err := deps.Adapters.SQLGenerator.Generate(ctx, req.Query, it.Batch.SchemaName, it.Batch.BatchName, req.Languages, nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "sql generation failed"})
			return
		}
		it.SQL = datatypes.SQLTemplate(generated.SQL)
		it.SentSQL = datatypes.SQLTemplate(generated.SentTemplate)
		it.MetaSQL = datatypes.SQLTemplate(generated.MetaTemplate)

		queue := deps.DefaultQueue
		if queue == "" {
			queue = "query"
		}
		submission, err := deps.Controller.Submit(ctx, lq, it, controller.SubmissionSpec{Queue: queue})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "job submission failed"})
			return
		}

		entry := &querystate.Entry{
			LQ:        lq,
			Iteration: it,
			WordCount: wordCount,
			Query:     req.Query,
			Languages: req.Languages,
		}
		deps.States.Put(lq.FirstJobID, entry)
		deps.States.AddJob(lq.FirstJobID, submission.Primary.JobID)
		if submission.Sentence != nil {
			deps.States.AddJob(lq.FirstJobID, submission.Sentence.JobID)
		}
		if submission.Metadata != nil {
			deps.States.AddJob(lq.FirstJobID, submission.Metadata.JobID)
		}

		if deps.Metrics != nil {
			deps.Metrics.QueryStarted()
			deps.Metrics.RecordIteration(observability.IterationState(lq.State))
		}

		c.JSON(http.StatusOK, QueryResponse{Status: string(lq.State), Job: submission.Primary.JobID})
	}
}

// respondInvalid implements spec.md §7's InvalidRequest contract: a
// synchronous HTTP response naming the specific refusal as `action`.
func respondInvalid(c *gin.Context, reason enginerr.Reason, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"status":  "error",
		"action":  reason,
		"message": message,
	})
}

func loadAppConfig(ctx context.Context, deps *Dependencies) (corpusconfig.Config, error) {
	raw, err := deps.Backend.Get(ctx, corpusconfig.AppConfigKey)
	if err != nil {
		return corpusconfig.Config{}, err
	}
	return corpusconfig.Parse(raw)
}
