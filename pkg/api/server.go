// Package api provides the REST API server for cseq2midi
package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/james-see/cseq2midi/pkg/bank"
	"github.com/james-see/cseq2midi/pkg/converter"
	"github.com/james-see/cseq2midi/pkg/logger"
	"github.com/james-see/cseq2midi/pkg/sbk"
)

// @title cseq2midi API
// @version 1.0
// @description API for converting between N64 cseq sequences and MIDI, splitting soundbanks and reading bank descriptions
// @host localhost:8080
// @BasePath /api/v1

// maxUpload bounds the size of an uploaded file.
const maxUpload = 32 << 20

// NewRouter builds the API routes
func NewRouter() *gin.Engine {
	r := gin.Default()

	// CORS middleware
	r.Use(corsMiddleware())

	// Health check
	r.GET("/health", healthCheck)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.GET("/formats", listFormats)
		v1.POST("/convert/cseq2midi", handleCseqToMIDI)
		v1.POST("/convert/midi2cseq", handleMIDIToCseq)
		v1.POST("/inspect", handleInspect)
		v1.POST("/sbk/split", handleSplit)
		v1.POST("/bank/inst", handleInst)
		v1.POST("/bank/coef", handleCoef)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// StartServer starts the API server on the specified port
func StartServer(port int) error {
	logger.GetLogger().Info("starting api server", "port", port)
	return NewRouter().Run(fmt.Sprintf(":%d", port))
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "cseq2midi",
	})
}

// listFormats godoc
// @Summary List supported formats
// @Description Returns the file formats understood and the conversions between them
// @Tags info
// @Produce json
// @Success 200 {object} map[string][]string
// @Router /api/v1/formats [get]
func listFormats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"formats": []converter.Format{
			converter.FormatMIDI, converter.FormatCseq, converter.FormatSbk,
			converter.FormatInst, converter.FormatCoef,
		},
		"conversions": converter.GetSupportedConversions(),
	})
}

// readUpload returns the uploaded form file and its name. It writes the
// error response itself and returns ok=false on failure.
func readUpload(c *gin.Context) (data []byte, name string, ok bool) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return nil, "", false
	}
	defer func() { _ = file.Close() }()

	data, err = io.ReadAll(io.LimitReader(file, maxUpload+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return nil, "", false
	}
	if len(data) > maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return nil, "", false
	}
	return data, header.Filename, true
}

func outputName(name, ext string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." {
		base = "converted"
	}
	return base + ext
}

func sendFile(c *gin.Context, name, contentType string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	c.Data(http.StatusOK, contentType, data)
}

// handleCseqToMIDI godoc
// @Summary Convert cseq to MIDI
// @Description Upload a cseq file and receive a format 1 MIDI file
// @Tags convert
// @Accept multipart/form-data
// @Produce application/octet-stream
// @Param file formData file true "cseq file to convert"
// @Param compress query bool false "Expand pattern compression (default: true)"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /api/v1/convert/cseq2midi [post]
func handleCseqToMIDI(c *gin.Context) {
	data, name, ok := readUpload(c)
	if !ok {
		return
	}
	conv := converter.New(converter.Options{NoCompression: c.Query("compress") == "false"})
	result, err := conv.CseqToMIDI(data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	sendFile(c, outputName(name, ".mid"), "audio/midi", result)
}

// handleMIDIToCseq godoc
// @Summary Convert MIDI to cseq
// @Description Upload a format 1 MIDI file and receive a cseq file
// @Tags convert
// @Accept multipart/form-data
// @Produce application/octet-stream
// @Param file formData file true "MIDI file to convert"
// @Param compress query bool false "Apply pattern compression (default: true)"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /api/v1/convert/midi2cseq [post]
func handleMIDIToCseq(c *gin.Context) {
	data, name, ok := readUpload(c)
	if !ok {
		return
	}
	conv := converter.New(converter.Options{NoCompression: c.Query("compress") == "false"})
	result, err := conv.MIDIToCseq(data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	sendFile(c, outputName(name, ".seq"), "application/octet-stream", result)
}

// handleInspect godoc
// @Summary Describe a MIDI or cseq file
// @Description Upload a MIDI or cseq file and receive a summary of its tracks
// @Tags info
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "MIDI or cseq file"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /api/v1/inspect [post]
func handleInspect(c *gin.Context) {
	data, name, ok := readUpload(c)
	if !ok {
		return
	}
	format := converter.DetectFormatFromContent(data)
	var summary any
	var err error
	switch format {
	case converter.FormatMIDI:
		summary, err = converter.Inspect(data)
	case converter.FormatCseq:
		summary, err = converter.InspectCseq(data)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s is neither MIDI nor cseq", name)})
		return
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"format": format, "summary": summary})
}

// handleSplit godoc
// @Summary Split a soundbank
// @Description Upload a .sbk soundbank and receive the list of sequences it holds
// @Tags soundbank
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Soundbank file"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /api/v1/sbk/split [post]
func handleSplit(c *gin.Context) {
	data, name, ok := readUpload(c)
	if !ok {
		return
	}
	entries, err := sbk.Split(data, logger.GetLogger())
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	files := make([]string, len(entries))
	for i, e := range entries {
		files[i] = sbk.FileName(base, e.Index)
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "files": files})
}

// handleInst godoc
// @Summary Parse an instrument bank description
// @Description Upload a .inst file and receive the resolved bank, instrument and sound graph
// @Tags bank
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true ".inst file"
// @Success 200 {object} bank.BankFile
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]interface{}
// @Router /api/v1/bank/inst [post]
func handleInst(c *gin.Context) {
	data, name, ok := readUpload(c)
	if !ok {
		return
	}
	bf, err := bank.ParseInst(bytes.NewReader(data), name)
	if err != nil {
		parseFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, bf)
}

// handleCoef godoc
// @Summary Parse an ADPCM codebook
// @Description Upload a .coef file and receive the codebook
// @Tags bank
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true ".coef file"
// @Success 200 {object} bank.ADPCMBook
// @Failure 400 {object} map[string]string
// @Failure 422 {object} map[string]interface{}
// @Router /api/v1/bank/coef [post]
func handleCoef(c *gin.Context) {
	data, name, ok := readUpload(c)
	if !ok {
		return
	}
	book, err := bank.ParseCoef(bytes.NewReader(data), name)
	if err != nil {
		parseFailure(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func parseFailure(c *gin.Context, err error) {
	var perr *bank.ParseError
	if errors.As(err, &perr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": perr.Msg, "file": perr.File, "line": perr.Line})
		return
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
}
