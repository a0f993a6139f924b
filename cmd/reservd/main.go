package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/aljonuschka/reservd/config"
	"github.com/aljonuschka/reservd/mailfetch"
	"github.com/aljonuschka/reservd/model"
	"github.com/aljonuschka/reservd/notify"
	"github.com/aljonuschka/reservd/objectstorage"
	"github.com/aljonuschka/reservd/store"
)

var (
	conf      *config.Config
	db        *gorm.DB
	st        *store.DB
	transport *mailfetch.Transport
	pipe      *mailfetch.Pipeline
	sender    *notify.Sender
	version   = "dev"
)

func getReservations(c echo.Context) error {
	views, err := st.List()
	if err != nil {
		c.Logger().Error("Failed to list reservations:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch reservations"})
	}
	return c.JSON(http.StatusOK, views)
}

func fetchEmails(c echo.Context) error {
	result, err := pipe.Run()
	if err != nil {
		c.Logger().Error("Fetch cycle failed:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !result.Success() {
		return c.JSON(http.StatusMultiStatus, result)
	}
	return c.JSON(http.StatusOK, result)
}

func checkPending(c echo.Context) error {
	result, err := pipe.CheckPending()
	if err != nil {
		c.Logger().Error("Pending check failed:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if !result.Success() {
		return c.JSON(http.StatusMultiStatus, result)
	}
	return c.JSON(http.StatusOK, result)
}

type statusResponse struct {
	UID         uint32       `json:"uid"`
	Status      model.Status `json:"status"`
	Notified    bool         `json:"notified"`
	SentCopy    bool         `json:"sent_copy"`
	IMAPFlagSet bool         `json:"imap_flag_set"`
}

func confirmReservation(c echo.Context) error {
	return changeStatus(c, model.StatusConfirmed, notify.KindConfirmed)
}

func rejectReservation(c echo.Context) error {
	return changeStatus(c, model.StatusRejected, notify.KindRejected)
}

// undoRejection moves a rejected reservation back to confirmed and tells
// the guest the table is available after all.
func undoRejection(c echo.Context) error {
	return changeStatus(c, model.StatusConfirmed, notify.KindUndo)
}

// changeStatus is the shared staff action: apply the transition, then
// notify the guest, file a copy in the sent folder and mark the original
// message read. Everything after the store update is best effort and
// reported as booleans.
func changeStatus(c echo.Context, to model.Status, kind notify.Kind) error {
	uid64, err := strconv.ParseUint(c.Param("uid"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid UID"})
	}
	uid := uint32(uid64)

	rec, err := st.Get(uid)
	if err != nil {
		if err == store.ErrNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Reservation not found"})
		}
		c.Logger().Error("Failed to load reservation:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load reservation"})
	}

	updated, err := st.UpdateStatus(uid, to)
	if err != nil {
		c.Logger().Error("Failed to update status:", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to update status"})
	}
	if !updated {
		return c.JSON(http.StatusConflict, map[string]string{
			"error": "Status change from " + string(rec.Status) + " to " + string(to) + " not allowed",
		})
	}
	rec.Status = to

	resp := statusResponse{UID: uid, Status: to}

	rendered, err := notify.Render(kind, rec)
	if err != nil {
		c.Logger().Error("Failed to render notification:", err)
	} else {
		if err := sender.Send(rec.Email, rendered.Subject, rendered.Body); err != nil {
			c.Logger().Error("Failed to send notification:", err)
		} else {
			resp.Notified = true
		}
		if resp.Notified {
			if err := transport.AppendSent(conf.SMTP.From, rec.Email, rendered.Subject, rendered.Body); err != nil {
				c.Logger().Error("Failed to append sent copy:", err)
			} else {
				resp.SentCopy = true
			}
		}
	}

	if err := transport.SetSeen(uid); err != nil {
		c.Logger().Error("Failed to set \\Seen flag:", err)
	} else {
		resp.IMAPFlagSet = true
	}

	return c.JSON(http.StatusOK, resp)
}

func main() {
	var confPath string
	var showVersion bool
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.StringVar(&confPath, "config", "config.yaml", "Path to config file")
	flag.Parse()

	if showVersion {
		log.Printf("Version: %s", version)
		return
	}

	var err error
	conf, err = config.Load(confPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if conf.LogFile != "" {
		logFile, err := os.OpenFile(conf.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()
		log.SetOutput(logFile)
	}

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
		AllowCredentials: true,
	}))

	db, err = gorm.Open(mysql.Open(conf.Database), &gorm.Config{})
	if err != nil {
		e.Logger.Fatal("DB connection failed:", err)
	}
	if err := model.Migrate(db); err != nil {
		e.Logger.Fatal("Migration failed:", err)
	}

	st = store.New(db)
	transport = mailfetch.NewTransport(conf.IMAP)
	pipe = mailfetch.NewPipeline(transport, st, conf.Subject)
	if conf.ObjectStorage.Bucket != "" {
		pipe = pipe.WithArchive(objectstorage.New(conf.ObjectStorage))
	}
	sender = notify.NewSender(conf.SMTP)

	e.GET("/api/reservations/emails", getReservations)
	e.POST("/api/reservations/emails/fetch", fetchEmails)
	e.POST("/api/reservations/emails/check-pending", checkPending)
	e.POST("/api/reservations/emails/:uid/confirm", confirmReservation)
	e.POST("/api/reservations/emails/:uid/reject", rejectReservation)
	e.POST("/api/reservations/emails/:uid/undo", undoRejection)

	e.Logger.Fatal(e.Start(conf.Listen))
}
