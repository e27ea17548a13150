// Package service exposes the SOS workflow over HTTP.
package service

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gitlab.com/dirk.krummacker/sos-service/internal/auth"
	"gitlab.com/dirk.krummacker/sos-service/internal/config"
	"gitlab.com/dirk.krummacker/sos-service/internal/contactstore"
	"gitlab.com/dirk.krummacker/sos-service/internal/controller"
	"gitlab.com/dirk.krummacker/sos-service/internal/logging"
	"gitlab.com/dirk.krummacker/sos-service/internal/model"
	"gitlab.com/dirk.krummacker/sos-service/internal/notify"
	"gitlab.com/dirk.krummacker/sos-service/internal/platform"
	"gitlab.com/dirk.krummacker/sos-service/internal/shake"
	"gitlab.com/dirk.krummacker/sos-service/internal/sos"
	"gitlab.com/dirk.krummacker/sos-service/internal/trigger"
)

// maxSamples is the largest accelerometer batch accepted in one request.
const maxSamples = 10000

// Service holds the components behind the HTTP API.
type Service struct {
	cfg       *config.Config
	log       zerolog.Logger
	store     *contactstore.Store
	ctrl      *controller.Controller
	trigger   *trigger.Service
	grants    *platform.GrantRegistry
	locations *platform.LocationCache
	hub       *notify.Hub
}

// CreateDatabase opens the MySQL database described by the configuration.
func CreateDatabase(cfg *config.Config) (*sql.DB, error) {
	sqlDB, err := sql.Open("mysql", cfg.DSN())
	return sqlDB, errors.Wrap(err, "could not open database")
}

// SetupDatabaseWrapper initializes the sqlx database wrapper with the specified sql database and
// builds the service on top of it. The database argument can be a real database for production
// use or a mock database within unit tests.
func SetupDatabaseWrapper(cfg *config.Config, log zerolog.Logger, sqlDB *sql.DB) (*Service, error) {
	db := sqlx.NewDb(sqlDB, "mysql")
	book, err := contactstore.NewSQLDeviceBook(db, log)
	if err != nil {
		return nil, err
	}
	return New(cfg, log, book, contactstore.NewSQLRemoteStore(db), nil), nil
}

// SetupMemory builds the service on in-memory stores.
func SetupMemory(cfg *config.Config, log zerolog.Logger) *Service {
	return New(cfg, log, contactstore.NewMemoryDeviceBook(), contactstore.NewMemoryRemoteStore(), nil)
}

// New wires all components. A nil transport selects the configured SMS gateway, or a
// logging dry run when no gateway is configured.
func New(cfg *config.Config, log zerolog.Logger, book contactstore.DeviceBook, remote contactstore.RemoteStore, transport sos.Transport) *Service {
	if transport == nil {
		if cfg.SMS.GatewayURL != "" {
			transport = sos.NewHTTPGateway(cfg.SMS.GatewayURL, cfg.SMS.Username, cfg.SMS.Password, cfg.SMS.From, cfg.SMS.Timeout)
		} else {
			log.Warn().Msg("no SMS gateway configured, messages are only logged")
			transport = sos.LogTransport{Log: log}
		}
	}
	s := &Service{
		cfg:       cfg,
		log:       log,
		grants:    platform.NewGrantRegistry(),
		locations: platform.NewLocationCache(cfg.LocationMaxAge),
		hub:       notify.NewHub(log, cfg.AllowedOrigins),
	}
	s.store = contactstore.NewStore(book, remote, log)
	s.trigger = trigger.NewService(s.grants, s.locations, s.store, sos.NewComposer(transport, log), s.hub, log, trigger.Config{
		FlowTimeout: cfg.FlowTimeout,
		DetectorOptions: []shake.Option{
			shake.WithThreshold(cfg.Shake.ThresholdGravity),
			shake.WithSlopTime(cfg.Shake.SlopTime),
		},
	})
	s.ctrl = controller.New(s.store, s.trigger, s.hub, log)
	return s
}

// Trigger returns the background trigger service.
func (s *Service) Trigger() *trigger.Service {
	return s.trigger
}

// SetupHttpRouter initializes the REST API router and registers all endpoints.
func (s *Service) SetupHttpRouter() *gin.Engine {
	var router *gin.Engine
	if s.cfg.GinLogging {
		router = gin.Default()
	} else {
		s.log.Info().Msg("Turning off HTTP request logging.")
		router = gin.New()
		router.Use(gin.Recovery(), logging.RequestLogger(s.log))
	}
	router.GET("/healthz", s.health)

	api := router.Group("/", auth.Middleware(s.cfg.JWTSecret))
	api.GET("/device-contacts", s.findDeviceContacts)
	api.PUT("/device-contacts", s.importDeviceContacts)
	api.GET("/selection", s.command(controller.ListSelection))
	api.DELETE("/selection", s.command(controller.ClearSelection))
	api.PUT("/selection/:phone", s.setSelected)
	api.POST("/selection/:phone/toggle", s.toggleSelected)
	api.POST("/selection/save", s.saveSelection)
	api.GET("/contacts", s.findEmergencyContacts)
	api.PUT("/permissions", s.reportPermissions)
	api.PUT("/location", s.reportLocation)
	api.POST("/samples", s.observeSamples)
	api.POST("/alert", s.alert)
	api.GET("/state", s.state)
	api.GET("/ws", s.notices)
	return router
}

// health answers liveness checks.
//
// Example REST API call:
//
//	> curl http://localhost:8080/healthz
func (s *Service) health(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{"status": "ok"})
}

// findDeviceContacts responds with the address book entries of the user as JSON.
//
// The URL parameter 'name' is matched case-insensitively against any part of the display name.
//
// The URL parameter 'limit' specifies how many contacts matching the search criteria are returned.
// The URL parameter 'offset' specifies how many items from the sorted list of results are skipped
// in the beginning. Together with the 'limit' parameter, one can implement search result paging.
//
// REST API calls:
//
//	> curl -H "Authorization: Bearer $TOKEN" "http://localhost:8080/device-contacts"
//	> curl -H "Authorization: Bearer $TOKEN" "http://localhost:8080/device-contacts?name=ann"
//	> curl -H "Authorization: Bearer $TOKEN" "http://localhost:8080/device-contacts?limit=20&offset=60"
func (s *Service) findDeviceContacts(c *gin.Context) {
	page, success := parseLimitAndOffset(c)
	if !success {
		return
	}
	res, err := s.ctrl.Dispatch(c.Request.Context(), controller.Command{
		Kind:   controller.SearchContacts,
		UserId: auth.UserId(c),
		Query:  c.Query("name"),
		Page:   page,
	})
	if err != nil {
		s.abortWithError(c, err, nil)
		return
	}
	c.IndentedJSON(http.StatusOK, res.Contacts)
}

// importDeviceContacts replaces the user's address book with the entries in the request's JSON.
//
// Example REST API call:
//
//	> curl http://localhost:8080/device-contacts --request "PUT" --header "Authorization: Bearer $TOKEN" --data '[{"name": "Anna Novak", "phone": "+420 222 333 444"}]'
func (s *Service) importDeviceContacts(c *gin.Context) {
	var contacts []model.DeviceContact
	if err := c.BindJSON(&contacts); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	for _, contact := range contacts {
		if contact.Phone == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "every contact needs a phone number"})
			return
		}
	}
	if err := s.store.ImportDeviceContacts(c.Request.Context(), auth.UserId(c), contacts); err != nil {
		s.abortWithError(c, err, nil)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"message": "address book imported", "count": len(contacts)})
}

// command returns a handler that dispatches a command without arguments and responds with the
// resulting selection.
//
// REST API calls:
//
//	> curl -H "Authorization: Bearer $TOKEN" http://localhost:8080/selection
//	> curl -H "Authorization: Bearer $TOKEN" http://localhost:8080/selection --request "DELETE"
func (s *Service) command(kind controller.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.ctrl.Dispatch(c.Request.Context(), controller.Command{Kind: kind, UserId: auth.UserId(c)})
		if err != nil {
			s.abortWithError(c, err, nil)
			return
		}
		c.IndentedJSON(http.StatusOK, gin.H{"selected": nonNil(res.Selected)})
	}
}

// setSelected checks or unchecks the phone number of the request URL, as the checkbox of the
// contact picker does. The JSON body carries the new state.
//
// Example REST API call:
//
//	> curl "http://localhost:8080/selection/+420%20222%20333%20444" --request "PUT" --header "Authorization: Bearer $TOKEN" --data '{"checked": true}'
func (s *Service) setSelected(c *gin.Context) {
	var body struct {
		Checked *bool `json:"checked"`
	}
	if err := c.BindJSON(&body); err != nil || body.Checked == nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	res, err := s.ctrl.Dispatch(c.Request.Context(), controller.Command{
		Kind:    controller.SetSelected,
		UserId:  auth.UserId(c),
		Phone:   c.Param("phone"),
		Checked: *body.Checked,
	})
	if err != nil {
		s.abortWithError(c, err, nil)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"selected": nonNil(res.Selected)})
}

// toggleSelected flips the checked state of the phone number of the request URL.
//
// Example REST API call:
//
//	> curl "http://localhost:8080/selection/+420%20222%20333%20444/toggle" --request "POST" --header "Authorization: Bearer $TOKEN"
func (s *Service) toggleSelected(c *gin.Context) {
	res, err := s.ctrl.Dispatch(c.Request.Context(), controller.Command{
		Kind:   controller.ToggleSelected,
		UserId: auth.UserId(c),
		Phone:  c.Param("phone"),
	})
	if err != nil {
		s.abortWithError(c, err, nil)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"selected": nonNil(res.Selected)})
}

// saveSelection merges the selected numbers into the saved emergency contacts and responds with
// the saved list.
//
// Example REST API call:
//
//	> curl http://localhost:8080/selection/save --request "POST" --header "Authorization: Bearer $TOKEN"
func (s *Service) saveSelection(c *gin.Context) {
	res, err := s.ctrl.Dispatch(c.Request.Context(), controller.Command{Kind: controller.SaveSelection, UserId: auth.UserId(c)})
	if err != nil {
		s.abortWithError(c, err, nil)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"contacts": res.Saved})
}

// findEmergencyContacts responds with the saved emergency contacts of the user.
//
// Example REST API call:
//
//	> curl -H "Authorization: Bearer $TOKEN" http://localhost:8080/contacts
func (s *Service) findEmergencyContacts(c *gin.Context) {
	phones, err := s.store.EmergencyContacts(c.Request.Context(), auth.UserId(c))
	if err != nil {
		s.abortWithError(c, err, nil)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"contacts": phones})
}

// reportPermissions records which permissions the user granted on the device. The list replaces
// the previous report.
//
// Example REST API call:
//
//	> curl http://localhost:8080/permissions --request "PUT" --header "Authorization: Bearer $TOKEN" --data '{"granted": ["send_sms", "fine_location"]}'
func (s *Service) reportPermissions(c *gin.Context) {
	userId := auth.UserId(c)
	if userId == "" {
		s.abortWithError(c, contactstore.ErrNoUser, nil)
		return
	}
	var body struct {
		Granted []model.Permission `json:"granted"`
	}
	if err := c.BindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	for _, p := range body.Granted {
		if !knownPermission(p) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "unknown permission " + string(p)})
			return
		}
	}
	s.grants.Report(userId, body.Granted)
	c.IndentedJSON(http.StatusOK, gin.H{
		"granted": s.grants.Granted(userId),
		"missing": nonNilPermissions(s.grants.Missing(userId, model.AllPermissions...)),
	})
}

// reportLocation records the last-known location of the user's device.
//
// Example REST API call:
//
//	> curl http://localhost:8080/location --request "PUT" --header "Authorization: Bearer $TOKEN" --data '{"latitude": 37.7749, "longitude": -122.4194}'
func (s *Service) reportLocation(c *gin.Context) {
	userId := auth.UserId(c)
	if userId == "" {
		s.abortWithError(c, contactstore.ErrNoUser, nil)
		return
	}
	var loc model.Location
	if err := c.BindJSON(&loc); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	if err := s.locations.Update(userId, loc); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, loc)
}

// observeSamples feeds a batch of accelerometer samples to the user's shake detector. A
// detected shake starts the SOS flow in the background; the response does not wait for it.
//
// Example REST API call:
//
//	> curl http://localhost:8080/samples --request "POST" --header "Authorization: Bearer $TOKEN" --data '[{"x": 30.1, "y": 2.0, "z": 9.8}]'
func (s *Service) observeSamples(c *gin.Context) {
	userId := auth.UserId(c)
	if userId == "" {
		s.abortWithError(c, contactstore.ErrNoUser, nil)
		return
	}
	var samples []model.Sample
	if err := c.BindJSON(&samples); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	if len(samples) > maxSamples {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "too many samples, limit is " + strconv.Itoa(maxSamples)})
		return
	}
	shakes := s.trigger.Observe(userId, samples)
	c.IndentedJSON(http.StatusAccepted, gin.H{"shakes": shakes, "state": s.trigger.State(userId)})
}

// alert runs the SOS flow synchronously, as the alert button does, and responds with the
// per-recipient report.
//
// Example REST API call:
//
//	> curl http://localhost:8080/alert --request "POST" --header "Authorization: Bearer $TOKEN"
func (s *Service) alert(c *gin.Context) {
	res, err := s.ctrl.Dispatch(c.Request.Context(), controller.Command{Kind: controller.SendAlert, UserId: auth.UserId(c)})
	if err != nil {
		s.abortWithError(c, err, res.Report)
		return
	}
	c.IndentedJSON(http.StatusOK, res.Report)
}

// state responds with the current SOS flow state of the user.
//
// Example REST API call:
//
//	> curl -H "Authorization: Bearer $TOKEN" http://localhost:8080/state
func (s *Service) state(c *gin.Context) {
	userId := auth.UserId(c)
	if userId == "" {
		s.abortWithError(c, contactstore.ErrNoUser, nil)
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"state": s.trigger.State(userId)})
}

// notices upgrades the connection to a websocket that receives the user's notices. Opening it
// arms the shake detector and shows the foreground notice.
func (s *Service) notices(c *gin.Context) {
	userId := auth.UserId(c)
	if userId == "" {
		s.abortWithError(c, contactstore.ErrNoUser, nil)
		return
	}
	if err := s.hub.Serve(c.Writer, c.Request, userId); err != nil {
		s.log.Warn().Err(err).Str("user", userId).Msg("websocket upgrade failed")
		return
	}
	s.trigger.Arm(userId)
}

// abortWithError maps an error category to an HTTP status code.
func (s *Service) abortWithError(c *gin.Context, err error, report *model.Report) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, contactstore.ErrNoUser):
		status = http.StatusUnauthorized
	case errors.Is(err, trigger.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, trigger.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, trigger.ErrNoLocation),
		errors.Is(err, sos.ErrNoContacts),
		errors.Is(err, contactstore.ErrEmptySelection):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, contactstore.ErrRemoteRead),
		errors.Is(err, contactstore.ErrRemoteWrite),
		errors.Is(err, trigger.ErrContactsUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, controller.ErrUnknownCommand):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	body := gin.H{"message": err.Error()}
	if report != nil && report.FlowId != "" {
		body["report"] = report
	}
	c.AbortWithStatusJSON(status, body)
}

// parseLimitAndOffset inspects the URL parameters and determines values for limit and offset of
// the result set.
func parseLimitAndOffset(c *gin.Context) (page contactstore.Page, success bool) {
	if limit := c.Query("limit"); limit != "" {
		limitAsInt, errConv := strconv.Atoi(limit)
		if errConv != nil || limitAsInt < 1 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid limit parameter"})
			return page, false
		}
		page.Limit = limitAsInt
	}
	if offset := c.Query("offset"); offset != "" {
		offsetAsInt, errConv := strconv.Atoi(offset)
		if errConv != nil || offsetAsInt < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid offset parameter"})
			return page, false
		}
		page.Offset = offsetAsInt
	}
	return page, true
}

// knownPermission returns true if p is one of the permissions the app asks for.
func knownPermission(p model.Permission) bool {
	for _, v := range model.AllPermissions {
		if v == p {
			return true
		}
	}
	return false
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func nonNilPermissions(list []model.Permission) []model.Permission {
	if list == nil {
		return []model.Permission{}
	}
	return list
}
