package handlers

import (
	"context"
	"net/http"

	"flower-classifier-backend/internal/models"
	"flower-classifier-backend/internal/services"

	"github.com/gin-gonic/gin"
)

// Knowledge is satisfied by *services.KnowledgeService.
type Knowledge interface {
	Get(ctx context.Context, label string) (*models.FlowerMonograph, error)
	Answer(ctx context.Context, label, question string) (*services.AnswerResult, error)
}

type FlowerHandler struct {
	knowledge Knowledge
}

func NewFlowerHandler(knowledge Knowledge) *FlowerHandler {
	return &FlowerHandler{knowledge: knowledge}
}

// GetFlower godoc
// @Summary     Get a flower monograph
// @Description Returns the stored monograph. It never generates one.
// @Tags        flowers
// @Produce     json
// @Security    Bearer
// @Param       name path string true "Scientific name or label"
// @Success     200 {object} models.FlowerResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /flowers/{name} [get]
func (h *FlowerHandler) GetFlower(c *gin.Context) {
	monograph, err := h.knowledge.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.FlowerResponse{Success: true, FlowerInfo: monograph})
}

// AskQuestion godoc
// @Summary     Ask a question about a flower
// @Description Answers from the flower's stored Q&A, or generates and stores a new answer.
// @Tags        flowers
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.QuestionRequest true "Flower and question"
// @Success     200 {object} models.AnswerResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     502 {object} models.ErrorResponse
// @Router      /questions [post]
func (h *FlowerHandler) AskQuestion(c *gin.Context) {
	var req models.QuestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "missing required fields", err.Error())
		return
	}

	res, err := h.knowledge.Answer(c.Request.Context(), req.ScientificName, req.Question)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.AnswerResponse{
		Success: true,
		Answer:  res.Text,
		Cached:  res.WasCached,
	})
}
