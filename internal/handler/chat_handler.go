package handler

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/openipc-ragbot/internal/port"
	"github.com/arturoeanton/openipc-ragbot/internal/service"
)

// ChatHandler serves the chat-platform endpoints and the streamed answers.
type ChatHandler struct {
	chats     *service.ChatService
	assembler *service.Assembler
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(chats *service.ChatService, assembler *service.Assembler) *ChatHandler {
	return &ChatHandler{chats: chats, assembler: assembler}
}

// Register sets up chat routes.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Post("/chat", h.Ask)

	chats := router.Group("/chats")
	chats.Get("/", h.List)
	chats.Post("/:id/scrape", h.Scrape)
	chats.Post("/:id/chat", h.AskChat)
}

type askRequest struct {
	Query string `json:"query"`
}

// List returns the target dialogs with their saved message counts.
func (h *ChatHandler) List(c fiber.Ctx) error {
	chats, err := h.chats.ListChats(c.Context())
	if err != nil {
		slog.Error("list chats failed", "error", err)
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(chats)
}

// Scrape pulls the latest messages of a chat into the message store.
func (h *ChatHandler) Scrape(c fiber.Ctx) error {
	chatID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid chat id"})
	}
	limit := service.DefaultScrapeLimit
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
		}
	}

	res, err := h.chats.Scrape(c.Context(), chatID, limit)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(res)
}

// Ask streams an answer grounded on the knowledge base.
func (h *ChatHandler) Ask(c fiber.Ctx) error {
	var body askRequest
	if err := c.Bind().JSON(&body); err != nil || strings.TrimSpace(body.Query) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query is required"})
	}
	return streamText(c, func(ctx context.Context) <-chan string {
		return h.assembler.Answer(ctx, body.Query)
	})
}

// AskChat streams an answer grounded on one chat's saved log.
func (h *ChatHandler) AskChat(c fiber.Ctx) error {
	chatID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid chat id"})
	}
	var body askRequest
	if err := c.Bind().JSON(&body); err != nil || strings.TrimSpace(body.Query) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query is required"})
	}
	return streamText(c, func(ctx context.Context) <-chan string {
		return h.assembler.AnswerFromChat(ctx, chatID, body.Query)
	})
}

// streamText writes every fragment as it arrives. A failed flush means the
// client went away, which cancels the answer.
func streamText(c fiber.Ctx, answer func(ctx context.Context) <-chan string) error {
	c.Set("Content-Type", "text/plain; charset=utf-8")
	c.Set("Cache-Control", "no-cache")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		for fragment := range answer(ctx) {
			if _, err := w.WriteString(fragment); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				slog.Info("client disconnected, stopping answer")
				return
			}
		}
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, port.ErrChatPlatformUnavailable),
		errors.Is(err, port.ErrMessageStoreUnavailable),
		errors.Is(err, port.ErrIndexUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, port.ErrChatNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, port.ErrIngestionRunning):
		return fiber.StatusConflict
	}
	return fiber.StatusInternalServerError
}
