package source

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mfcoelho/plenario/internal/model"
)

// Adapter for the Câmara Municipal de Florianópolis (CMF) open-data
// JSON-Web API: https://www.cmf.sc.gov.br/dados-abertos
const (
	cmfCity    = "florianopolis"
	cmfUF      = "SC"
	cmfBaseURL = "https://www.cmf.sc.gov.br/jsonweb/web-aplicativo.php"

	// cmfToken is the application key the CMF publishes with its open-data
	// portal; it grants read access only.
	cmfToken = "bdox40jgz46d1o@tg0289kinqs19rgpi5xfvu9f7s88mqs-ee292b83687e83ec319"

	// The CMF fronts the API with a WAF that rejects non-browser clients,
	// so requests identify as a desktop browser.
	cmfUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

	cmfTimeout = 15 * time.Second
	cmfMaxBody = 16 << 20
)

func init() {
	Register(cmfCity, func(opts Options) Source { return NewFlorianopolis(opts) })
}

// Florianopolis consumes the CMF JSON-Web API. All methods are stateless:
// one HTTP call per invocation, no retries, no caching.
type Florianopolis struct {
	baseURL string
	token   string
	agent   string
	client  *http.Client
}

// NewFlorianopolis builds the CMF adapter. Unset options fall back to the
// public endpoint, token and a browser user agent.
func NewFlorianopolis(opts Options) *Florianopolis {
	f := &Florianopolis{
		baseURL: opts.BaseURL,
		token:   opts.Token,
		agent:   opts.UserAgent,
	}
	if f.baseURL == "" {
		f.baseURL = cmfBaseURL
	}
	if f.token == "" {
		f.token = cmfToken
	}
	if f.agent == "" {
		f.agent = cmfUserAgent
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = cmfTimeout
	}
	f.client = newHTTPClient(timeout)
	return f
}

func (f *Florianopolis) Identity() (city, uf string) {
	return cmfCity, cmfUF
}

// get performs one call against the JSON-Web endpoint. Every service hangs
// off the same PHP script, selected by the call parameter.
func (f *Florianopolis) get(ctx context.Context, service string, extra url.Values) ([]map[string]any, error) {
	q := url.Values{}
	q.Set("keysoft", f.token)
	q.Set("call", service)
	for key, vals := range extra {
		for _, val := range vals {
			q.Set(key, val)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building %s request: %v", ErrPermanent, service, err)
	}
	req.Header.Set("User-Agent", f.agent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned status %d", classifyStatus(resp.StatusCode), service, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, cmfMaxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s response: %v", ErrTransient, service, err)
	}
	rows, err := decodeRows(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", service, err)
	}
	return rows, nil
}

func pageParams(page int) url.Values {
	return url.Values{"pagina": {strconv.Itoa(page)}}
}

func (f *Florianopolis) FetchCouncilmembers(ctx context.Context) ([]model.Councilmember, error) {
	rows, err := f.get(ctx, "vereadores", nil)
	if err != nil {
		return nil, err
	}
	members := make([]model.Councilmember, 0, len(rows))
	for _, row := range rows {
		name := firstString(row, "nome", "nomeVereador")
		id := firstString(row, "id", "codigo", "idVereador")
		if id == "" {
			id = contentID(name, firstString(row, "partido", "siglaPartido"))
		}
		members = append(members, model.Councilmember{
			SourceID:     id,
			Name:         name,
			Party:        firstString(row, "partido", "siglaPartido"),
			Email:        firstString(row, "email"),
			PhotoURL:     firstString(row, "foto", "urlFoto"),
			MandateStart: firstDate(row, "inicioMandato", "inicio_mandato"),
			MandateEnd:   firstDate(row, "fimMandato", "fim_mandato"),
			Raw:          row,
		})
	}
	return members, nil
}

func (f *Florianopolis) FetchProposals(ctx context.Context, page int, typeFilter string) ([]model.Proposal, bool, error) {
	params := pageParams(page)
	if typeFilter != "" {
		params.Set("tipo", typeFilter)
	}
	rows, err := f.get(ctx, "proposicoes", params)
	if err != nil {
		return nil, false, err
	}
	proposals := make([]model.Proposal, 0, len(rows))
	for _, row := range rows {
		kind := firstString(row, "tipo", "tipoProposicao")
		number := firstString(row, "numero")
		year := firstInt(row, "ano")
		id := firstString(row, "id", "codigo", "idProposicao")
		if id == "" {
			id = contentID(kind, number, strconv.Itoa(year))
		}
		proposals = append(proposals, model.Proposal{
			SourceID:     id,
			Type:         mapProposalType(kind),
			Number:       number,
			Year:         year,
			Summary:      firstString(row, "ementa", "descricao"),
			AuthorIDs:    splitAuthors(firstString(row, "autor", "autores")),
			RapporteurID: firstString(row, "relator"),
			FiledAt:      firstDate(row, "data_apre", "dataApresentacao", "data"),
			District:     firstString(row, "bairro"),
			Status:       firstString(row, "status", "situacao"),
			Raw:          row,
		})
	}
	return proposals, len(proposals) > 0, nil
}

func (f *Florianopolis) FetchAgenda(ctx context.Context, page int) ([]model.AgendaItem, bool, error) {
	rows, err := f.get(ctx, "pautas", pageParams(page))
	if err != nil {
		return nil, false, err
	}
	items := make([]model.AgendaItem, 0, len(rows))
	for _, row := range rows {
		date := firstDate(row, "data", "dataSessao")
		title := firstString(row, "titulo", "descricaoTipo")
		kind := firstString(row, "tipo", "tipoSessao")
		id := firstString(row, "id", "codigo")
		if id == "" {
			// Agenda entries rarely carry upstream ids; a content hash
			// keeps re-collections stable.
			id = contentID(date, title, kind)
		}
		items = append(items, model.AgendaItem{
			SourceID:    id,
			SessionDate: date,
			SessionType: kind,
			Title:       title,
			Description: firstString(row, "descricao", "ementa"),
			ProposalIDs: firstStringList(row, "proposicoes", "itens", "materias"),
			Outcome:     mapOutcome(firstString(row, "resultado", "situacao", "status")),
			Raw:         row,
		})
	}
	return items, len(items) > 0, nil
}

func (f *Florianopolis) FetchNews(ctx context.Context, page int) ([]model.NewsItem, bool, error) {
	rows, err := f.get(ctx, "noticias", pageParams(page))
	if err != nil {
		return nil, false, err
	}
	items := make([]model.NewsItem, 0, len(rows))
	for _, row := range rows {
		title := firstString(row, "titulo", "manchete")
		date := firstDate(row, "data", "dataPublicacao")
		id := firstString(row, "id", "codigo")
		if id == "" {
			id = contentID(date, title)
		}
		items = append(items, model.NewsItem{
			SourceID:    id,
			Title:       title,
			PublishedAt: date,
			URL:         firstString(row, "link", "url"),
			Raw:         row,
		})
	}
	return items, len(items) > 0, nil
}

// FetchDistricts lists the bairros the CMF recognizes. Florianópolis is the
// only city so far whose API publishes its subdivisions.
func (f *Florianopolis) FetchDistricts(ctx context.Context) ([]model.District, error) {
	rows, err := f.get(ctx, "bairros", nil)
	if err != nil {
		return nil, err
	}
	districts := make([]model.District, 0, len(rows))
	for _, row := range rows {
		name := firstString(row, "nome", "bairro", "descricao")
		if name == "" {
			continue
		}
		id := firstString(row, "id", "codigo")
		if id == "" {
			id = contentID(name)
		}
		districts = append(districts, model.District{SourceID: id, Name: name})
	}
	return districts, nil
}

// mapProposalType folds the CMF's local proposal naming onto the shared
// enum. Matching is substring-based because the API abbreviates
// inconsistently ("PL", "Projeto de Lei", "Proj. Lei").
func mapProposalType(s string) model.ProposalType {
	t := strings.ToLower(strings.TrimSpace(s))
	switch {
	case t == "":
		return model.ProposalOther
	case strings.Contains(t, "decreto"):
		return model.ProposalDecree
	case strings.Contains(t, "lei") || t == "pl":
		return model.ProposalOrdinance
	case strings.Contains(t, "moç") || strings.Contains(t, "moc"):
		return model.ProposalMotion
	case strings.Contains(t, "emenda"):
		return model.ProposalAmendment
	case strings.Contains(t, "indica"):
		return model.ProposalIndication
	case strings.Contains(t, "requerimento"):
		return model.ProposalRequest
	default:
		return model.ProposalOther
	}
}

// mapOutcome folds the CMF's free-text item disposition onto the shared
// enum. Anything unrecognized stays pending rather than guessing.
func mapOutcome(s string) model.AgendaOutcome {
	t := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.Contains(t, "votad"), strings.Contains(t, "aprovad"), strings.Contains(t, "rejeitad"):
		return model.OutcomeVoted
	case strings.Contains(t, "retirad"):
		return model.OutcomeWithdrawn
	default:
		return model.OutcomePending
	}
}

// splitAuthors breaks a joint-authorship field into individual references.
// The CMF lists co-authors in one string separated by commas or semicolons.
func splitAuthors(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	authors := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			authors = append(authors, p)
		}
	}
	return authors
}

// contentID fingerprints rows that carry no upstream id so that identical
// content maps to the same id across collections.
func contentID(parts ...string) string {
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
