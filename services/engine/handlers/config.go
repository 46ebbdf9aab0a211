// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bambooforest/qiengine/services/engine/corpusconfig"
)

// NewConfigHandler builds the POST /config handler: force-refresh the
// corpus-config cache (spec.md §6's second and only other core HTTP
// endpoint) by re-reading CorpusConfigPath off disk and overwriting the
// cached app_config entry, regardless of its current TTL.
func NewConfigHandler(deps *Dependencies) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, err := corpusconfig.LoadFile(deps.CorpusConfigPath)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load corpus config: " + err.Error()})
			return
		}

		raw, err := corpusconfig.Store(cfg)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode corpus config"})
			return
		}

		cacheTTL, err := cfg.ResolveTTL(deps.AppConfigTTL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := deps.Backend.Set(c.Request.Context(), corpusconfig.AppConfigKey, raw, cacheTTL); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cache corpus config"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "refreshed", "corpora": len(cfg.Corpora)})
	}
}
