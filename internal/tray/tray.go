// Package tray provides the menu-bar interface of nailwatch.
package tray

import (
	"fmt"
	"math"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/sirupsen/logrus"

	"github.com/ayusman/nailwatch/internal/app"
	"github.com/ayusman/nailwatch/internal/classifier"
	"github.com/ayusman/nailwatch/internal/notify"
)

// Menu bar titles.
const (
	Title         = "NailWatch"
	AlertingTitle = "⚠ NailWatch"
)

// Controller is the part of the app the menu drives.
type Controller interface {
	Toggle() (bool, error)
	SetMuted(muted bool) error
	SetVariant(name string) error
	Subscribe() (<-chan app.Status, func())
}

// View holds the menu labels for one status snapshot.
type View struct {
	Toggle     string
	Confidence string
	Last       string
	Today      string
	Error      string
	Muted      bool
	Variant    string
}

// Render turns a status snapshot into menu labels.
func Render(st app.Status) View {
	v := View{
		Toggle:     "○ Paused",
		Confidence: fmt.Sprintf("Confidence: %d%%", int(math.Round(st.Confidence*100))),
		Last:       "Last: none",
		Today:      fmt.Sprintf("Today: %d", st.TodayCount),
		Muted:      st.Muted,
		Variant:    st.Variant,
	}
	if st.Running {
		v.Toggle = "● Monitoring"
	}
	if st.LastDetection != nil {
		v.Last = "Last: " + st.LastDetection.Local().Format(time.TimeOnly)
	}
	switch {
	case st.CameraError != "":
		v.Error = "Camera unavailable"
	case st.ModelError != "":
		v.Error = "Model unavailable"
	}
	return v
}

// TitleFor returns the menu bar title while an alert is or is not visible.
func TitleFor(alerting bool) string {
	if alerting {
		return AlertingTitle
	}
	return Title
}

// Tray represents the system tray application.
type Tray struct {
	ctrl         Controller
	dashboardURL string
	onQuit       func()
	log          logrus.FieldLogger
	mu           sync.Mutex

	// Menu items stored for later updates
	menuToggle     *systray.MenuItem
	menuConfidence *systray.MenuItem
	menuLast       *systray.MenuItem
	menuToday      *systray.MenuItem
	menuError      *systray.MenuItem
	menuMute       *systray.MenuItem
	menuVariants   map[classifier.Variant]*systray.MenuItem
}

// New creates a Tray driving ctrl. dashboardURL may be empty to hide the
// dashboard item.
func New(ctrl Controller, dashboardURL string, log logrus.FieldLogger) *Tray {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tray{
		ctrl:         ctrl,
		dashboardURL: dashboardURL,
		log:          log.WithField("component", "tray"),
		menuVariants: make(map[classifier.Variant]*systray.MenuItem),
	}
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray from outside the menu.
func (t *Tray) Quit() {
	systray.Quit()
}

// ShowAlert switches the title while an overlay alert is visible. It is
// meant to be registered with notify.Overlay.OnChange.
func (t *Tray) ShowAlert(a *notify.Alert) {
	systray.SetTitle(TitleFor(a != nil))
	if a != nil {
		systray.SetTooltip(a.Title + " - " + a.Body)
	} else {
		systray.SetTooltip("NailWatch nail-biting monitor")
	}
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle(Title)
	systray.SetTooltip("NailWatch nail-biting monitor")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem("○ Paused", "Start or pause monitoring")
	systray.AddSeparator()

	t.menuConfidence = systray.AddMenuItem("Confidence: 0%", "Smoothed confidence")
	t.menuConfidence.Disable()
	t.menuLast = systray.AddMenuItem("Last: none", "Last detection")
	t.menuLast.Disable()
	t.menuToday = systray.AddMenuItem("Today: 0", "Detections today")
	t.menuToday.Disable()
	t.menuError = systray.AddMenuItem("", "")
	t.menuError.Disable()
	t.menuError.Hide()
	systray.AddSeparator()

	t.menuMute = systray.AddMenuItemCheckbox("Mute alerts", "Silence the alert sound", false)
	menuModel := systray.AddMenuItem("Model", "Classifier resolution")
	for _, v := range classifier.Variants() {
		t.menuVariants[v] = menuModel.AddSubMenuItemCheckbox(v.DisplayName(), "Use the "+v.DisplayName()+" model", false)
	}
	systray.AddSeparator()

	var menuDashboard *systray.MenuItem
	if t.dashboardURL != "" {
		menuDashboard = systray.AddMenuItem("Open Dashboard…", "Open the dashboard in a browser")
	}
	menuQuit := systray.AddMenuItem("Quit", "Quit NailWatch")
	t.mu.Unlock()

	updates, cancel := t.ctrl.Subscribe()
	go t.follow(updates)

	for v, item := range t.menuVariants {
		go t.watchVariant(v, item)
	}

	var dashboardCh chan struct{}
	if menuDashboard != nil {
		dashboardCh = menuDashboard.ClickedCh
	}

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-t.menuMute.ClickedCh:
				t.handleMute()
			case <-dashboardCh:
				t.handleDashboard()
			case <-menuQuit.ClickedCh:
				cancel()
				t.handleQuit()
				return
			}
		}
	}()
}

// onExit is called when the system tray is about to exit.
func (t *Tray) onExit() {}

// follow applies status snapshots to the menu until the channel closes.
func (t *Tray) follow(updates <-chan app.Status) {
	for st := range updates {
		t.apply(Render(st))
	}
}

func (t *Tray) apply(v View) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.menuToggle.SetTitle(v.Toggle)
	t.menuConfidence.SetTitle(v.Confidence)
	t.menuLast.SetTitle(v.Last)
	t.menuToday.SetTitle(v.Today)

	if v.Error != "" {
		t.menuError.SetTitle(v.Error)
		t.menuError.Show()
	} else {
		t.menuError.Hide()
	}

	if v.Muted {
		t.menuMute.Check()
	} else {
		t.menuMute.Uncheck()
	}

	for variant, item := range t.menuVariants {
		if string(variant) == v.Variant {
			item.Check()
		} else {
			item.Uncheck()
		}
	}
}

func (t *Tray) watchVariant(v classifier.Variant, item *systray.MenuItem) {
	for range item.ClickedCh {
		if err := t.ctrl.SetVariant(string(v)); err != nil {
			t.log.WithError(err).WithField("variant", v).Warn("variant switch failed")
		}
	}
}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	if _, err := t.ctrl.Toggle(); err != nil {
		t.log.WithError(err).Warn("could not start monitoring")
	}
}

func (t *Tray) handleMute() {
	t.mu.Lock()
	muted := !t.menuMute.Checked()
	t.mu.Unlock()

	if err := t.ctrl.SetMuted(muted); err != nil {
		t.log.WithError(err).Warn("failed to save mute preference")
	}
}

func (t *Tray) handleDashboard() {
	if err := openBrowser(t.dashboardURL); err != nil {
		t.log.WithError(err).Warn("failed to open dashboard")
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.mu.Lock()
	callback := t.onQuit
	t.mu.Unlock()

	if callback != nil {
		callback()
	}

	systray.Quit()
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
