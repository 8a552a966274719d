package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/quillchat/backend/internal/v1/errs"
	"github.com/quillchat/backend/internal/v1/store"
)

// maxUploadSize bounds one message attachment.
const maxUploadSize = 150 << 20

// uploadFile stores a message attachment under the public directory
// and returns what the client should send as a new-message.
func (s *Server) uploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, err := c.FormFile("file")
	if err != nil {
		fail(c, errs.Validation("A file is required"))
		return
	}
	if file.Size > maxUploadSize {
		fail(c, errs.Validation("File exceeds the 150 MiB limit"))
		return
	}

	name := uuid.New().String() + filepath.Ext(file.Filename)
	if err := c.SaveUploadedFile(file, filepath.Join(s.cfg.PublicDir, name)); err != nil {
		fail(c, errs.Wrap(errs.KindIO, "Failed to store file", err))
		return
	}

	kind := store.KindFile
	if strings.HasPrefix(file.Header.Get("Content-Type"), "image/") {
		kind = store.KindImage
	}

	c.JSON(http.StatusOK, gin.H{
		"content": file.Filename,
		"fileUrl": "/public/" + name,
		"kind":    kind,
	})
}
