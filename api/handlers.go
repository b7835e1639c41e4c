package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/sogeor/flow/domain"
)

// Deps are the services the handlers call into.
type Deps struct {
	Accounts  domain.AccountService
	Boards    domain.BoardService
	Workflows domain.WorkflowService
	Cascade   *domain.Orchestrator
	Sessions  *Sessions
	Log       *log.Logger
}

// Setup installs the JSON codec, request validator and error handler.
func Setup(e *echo.Echo, logger *log.Logger) {
	e.JSONSerializer = JSONSerializer{}
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler(logger)
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	auth := RequireSession(d.Sessions)

	e.GET("/healthz", healthz())

	g := e.Group("/api")
	g.POST("/account/login", login(d))
	g.POST("/account/create", createAccount(d))

	g.GET("/account/:id/about", getAccount(d), auth)
	g.GET("/account/:id/boards", listBoards(d), auth)
	g.GET("/account/:id/settings", getAccountSettings(d), auth)
	g.PUT("/account/:id/settings", replaceAccountSettings(d), auth)
	g.DELETE("/account/:id", deleteAccount(d), auth)

	g.POST("/board", createBoard(d), auth)
	g.GET("/board/:id/settings", getBoardSettings(d), auth)
	g.PUT("/board/:id/settings", replaceBoardSettings(d), auth)
	g.DELETE("/board/:id", deleteBoard(d), auth)

	g.GET("/board/:id/workflow", listWorkflows(d), auth)
	g.POST("/board/:id/workflow", createWorkflow(d), auth)
	g.DELETE("/board/:id/workflow/:fid", deleteWorkflow(d), auth)
	g.POST("/board/:id/workflow/:fid/card", createCard(d), auth)
	g.DELETE("/board/:id/workflow/:fid/card/:cid", deleteCard(d), auth)
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// startSession issues a token for accountID and sets the session cookie.
func startSession(c echo.Context, s *Sessions, accountID string) error {
	token, err := s.Issue(accountID)
	if err != nil {
		return err
	}
	c.SetCookie(s.Cookie(token))
	return nil
}

func login(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req loginRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		acc, err := d.Accounts.Authenticate(c.Request().Context(), req.Email, req.Password)
		if err != nil {
			return err
		}
		if err := startSession(c, d.Sessions, acc.ID); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, idResponse{ID: acc.ID})
	}
}

func createAccount(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createAccountRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		acc, err := d.Accounts.Register(c.Request().Context(), domain.Registration{
			Email:    req.Email,
			Password: req.Password,
			Username: req.Username,
		})
		if err != nil {
			return err
		}
		if err := startSession(c, d.Sessions, acc.ID); err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, idResponse{ID: acc.ID})
	}
}

func getAccount(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		acc, err := d.Accounts.Get(c.Request().Context(), accountParam(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, acc)
	}
}

func listBoards(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		boards, err := d.Boards.List(c.Request().Context(), accountParam(c))
		if err != nil {
			return err
		}
		if boards == nil {
			boards = []domain.Board{}
		}
		return c.JSON(http.StatusOK, boards)
	}
}

func getAccountSettings(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		settings, err := d.Accounts.Settings(c.Request().Context(), accountParam(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func replaceAccountSettings(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req domain.AccountSettings
		if err := decodeBody(c.Request(), &req); err != nil {
			return err
		}
		settings, err := d.Accounts.ReplaceSettings(c.Request().Context(), accountParam(c), req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func deleteAccount(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := d.Cascade.DeleteAccount(c.Request().Context(), accountParam(c)); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Account deleted"})
	}
}

func createBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createBoardRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		b, err := d.Boards.Create(c.Request().Context(), principalFrom(c).AccountID, domain.NewBoard{
			Title:    req.Title,
			Settings: req.Settings,
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, b)
	}
}

func getBoardSettings(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		settings, err := d.Boards.Settings(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func replaceBoardSettings(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req domain.BoardSettings
		if err := decodeBody(c.Request(), &req); err != nil {
			return err
		}
		settings, err := d.Boards.ReplaceSettings(c.Request().Context(), c.Param("id"), req)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func deleteBoard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := d.Cascade.DeleteBoard(c.Request().Context(), c.Param("id")); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Board deleted"})
	}
}

func listWorkflows(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		workflows, err := d.Workflows.List(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		if workflows == nil {
			workflows = []domain.Workflow{}
		}
		return c.JSON(http.StatusOK, workflows)
	}
}

func createWorkflow(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createWorkflowRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		w, err := d.Workflows.Create(c.Request().Context(), c.Param("id"), req.Title)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, w)
	}
}

// deleteWorkflow addresses the workflow by :fid alone; the board id in the
// path is not cross-checked.
func deleteWorkflow(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := d.Cascade.DeleteWorkflow(c.Request().Context(), c.Param("fid")); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Workflow deleted"})
	}
}

func createCard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req createCardRequest
		if err := bind(c, &req); err != nil {
			return err
		}
		card, err := d.Workflows.AppendCard(c.Request().Context(), c.Param("fid"), domain.NewCard{
			Title:       req.Title,
			Description: req.Description,
		})
		if err != nil {
			return err
		}
		return c.JSON(http.StatusCreated, card)
	}
}

func deleteCard(d Deps) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := d.Workflows.RemoveCard(c.Request().Context(), c.Param("fid"), c.Param("cid")); err != nil {
			return err
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Card deleted"})
	}
}
